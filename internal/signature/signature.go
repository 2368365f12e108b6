package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HeaderName is the HTTP header carrying the delivery signature.
const HeaderName = "stellar-signature"

// ErrInvalidSignature is returned when the header is missing, malformed, or
// the computed digest does not match.
var ErrInvalidSignature = errors.New("signature: verification failed")

// Compute returns the lowercase hex HMAC-SHA256 of "<ts>.<body>" keyed by the
// webhook secret.
func Compute(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header formats the signature header value: t=<unix ts>,v1=<hex digest>.
func Header(secret string, ts int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, Compute(secret, ts, body))
}

// Verify checks a received header value against the body and secret. A
// non-positive tolerance disables the timestamp freshness check.
func Verify(secret, header string, body []byte, tolerance time.Duration) error {
	ts, provided, err := parseHeader(header)
	if err != nil {
		return err
	}
	if tolerance > 0 {
		age := time.Since(time.Unix(ts, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}
	expected := Compute(secret, ts, body)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrInvalidSignature
	}
	return nil
}

func parseHeader(header string) (int64, string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, "", fmt.Errorf("%w: missing header", ErrInvalidSignature)
	}
	var (
		ts  int64
		sig string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, "", fmt.Errorf("%w: malformed header", ErrInvalidSignature)
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: malformed timestamp", ErrInvalidSignature)
			}
			ts = parsed
		case "v1":
			sig = value
		}
	}
	if ts == 0 || sig == "" {
		return 0, "", fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}
	return ts, sig, nil
}
