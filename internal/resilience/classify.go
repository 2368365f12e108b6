package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// retryablePatterns is the fixed set of error-message signatures treated as
// transient. Matching is case-insensitive substring match.
var retryablePatterns = []string{
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"no such host",
	"temporarily unavailable",
	"502",
	"503",
	"504",
}

// Retryable classifies a delivery outcome. A zero status means no HTTP
// response was received and the error alone decides. HTTP 429 and all 5xx
// responses are transient; other 4xx responses are business failures and are
// never retried.
func Retryable(status int, err error) bool {
	if status >= 500 || status == http.StatusTooManyRequests {
		return true
	}
	if status >= 400 {
		return false
	}
	if status >= 200 && status < 400 {
		return false
	}
	return retryableError(err)
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
