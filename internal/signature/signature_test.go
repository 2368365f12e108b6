package signature_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenpay/backend-pay/internal/signature"
)

func TestRoundTrip(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"payment.confirmed","created":1700000000,"data":{}}`)
	ts := time.Now().Unix()
	header := signature.Header("whsec_test", ts, body)

	require.NoError(t, signature.Verify("whsec_test", header, body, 0))
}

func TestHeaderFormat(t *testing.T) {
	body := []byte(`{}`)
	header := signature.Header("s", 1700000000, body)
	require.Equal(t, fmt.Sprintf("t=1700000000,v1=%s", signature.Compute("s", 1700000000, body)), header)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"ok":true}`)
	header := signature.Header("secret-a", time.Now().Unix(), body)

	err := signature.Verify("secret-b", header, body, 0)
	require.ErrorIs(t, err, signature.ErrInvalidSignature)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	header := signature.Header("secret", time.Now().Unix(), []byte(`{"amount":10}`))

	err := signature.Verify("secret", header, []byte(`{"amount":9999}`), 0)
	require.ErrorIs(t, err, signature.ErrInvalidSignature)
}

func TestVerifyRejectsMissingOrMalformedHeader(t *testing.T) {
	body := []byte(`{}`)
	for _, header := range []string{"", "v1=abc", "t=notanumber,v1=abc", "garbage"} {
		err := signature.Verify("secret", header, body, 0)
		require.ErrorIs(t, err, signature.ErrInvalidSignature, "header %q", header)
	}
}

func TestVerifyTimestampTolerance(t *testing.T) {
	body := []byte(`{}`)
	stale := time.Now().Add(-time.Hour).Unix()
	header := signature.Header("secret", stale, body)

	require.NoError(t, signature.Verify("secret", header, body, 0))
	err := signature.Verify("secret", header, body, 5*time.Minute)
	require.ErrorIs(t, err, signature.ErrInvalidSignature)
}
