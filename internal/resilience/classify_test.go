package resilience_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumenpay/backend-pay/internal/resilience"
)

func TestRetryableByStatus(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{http.StatusOK, false},
		{http.StatusNoContent, false},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
		{http.StatusUnprocessableEntity, false},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, resilience.Retryable(tc.status, nil), "status %d", tc.status)
	}
}

func TestRetryableByError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("dial tcp: i/o timeout"), true},
		{errors.New("rate limit exceeded"), true},
		{context.DeadlineExceeded, true},
		{errors.New("invalid payload"), false},
		{errors.New("unauthorized"), false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, resilience.Retryable(0, tc.err), "err %v", tc.err)
	}
}

func TestBusinessStatusWinsOverError(t *testing.T) {
	// a 4xx response is final even if the transport also surfaced an error string
	require.False(t, resilience.Retryable(http.StatusNotFound, errors.New("connection reset")))
}
