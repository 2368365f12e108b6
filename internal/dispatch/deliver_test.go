package dispatch_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lumenpay/backend-pay/internal/dispatch"
	"github.com/lumenpay/backend-pay/internal/domain"
	"github.com/lumenpay/backend-pay/internal/signature"
)

func newExecutor(logs dispatch.LogStore) *dispatch.Executor {
	return &dispatch.Executor{
		Logs:        logs,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		Timeout:     time.Second,
		Logger:      zerolog.Nop(),
	}
}

func testEvent() domain.Event {
	return domain.NewEvent(domain.EventPaymentConfirmed, json.RawMessage(`{"payment_id":"p1","checkout_id":"c1"}`))
}

func TestDeliverSignsRequest(t *testing.T) {
	type captured struct {
		header string
		body   []byte
	}
	received := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- captured{header: r.Header.Get(signature.HeaderName), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	webhook := hook("wh-1", srv.URL, "payment.confirmed")
	require.NoError(t, newExecutor(&memoryLogs{}).Deliver(context.Background(), webhook, testEvent()))

	record := <-received
	require.NotEmpty(t, record.header)
	require.NoError(t, signature.Verify(webhook.Secret, record.header, record.body, 0))
	require.Error(t, signature.Verify("wrong-secret", record.header, record.body, 0))

	var event domain.Event
	require.NoError(t, json.Unmarshal(record.body, &event))
	require.Equal(t, domain.EventPaymentConfirmed, event.Type)
	require.NotZero(t, event.Created)
}

func TestDeliverRetriesTransientTo503Cap(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	logs := &memoryLogs{}
	err := newExecutor(logs).Deliver(context.Background(), hook("wh-1", srv.URL, "payment.confirmed"), testEvent())
	require.Error(t, err)
	require.Equal(t, int32(3), attempts.Load())

	rows := logs.all()
	require.Len(t, rows, 1, "one log row per logical delivery, not per retry")
	require.NotNil(t, rows[0].StatusCode)
	require.Equal(t, http.StatusServiceUnavailable, *rows[0].StatusCode)
	require.NotNil(t, rows[0].ErrorMessage)
}

func TestDeliverDoesNotRetryBusinessErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	logs := &memoryLogs{}
	err := newExecutor(logs).Deliver(context.Background(), hook("wh-1", srv.URL, "payment.confirmed"), testEvent())
	require.Error(t, err)
	require.Equal(t, int32(1), attempts.Load())

	rows := logs.all()
	require.Len(t, rows, 1)
	require.Equal(t, http.StatusNotFound, *rows[0].StatusCode)
}

func TestDeliverRecoversAfterTransientFailure(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	logs := &memoryLogs{}
	err := newExecutor(logs).Deliver(context.Background(), hook("wh-1", srv.URL, "payment.confirmed"), testEvent())
	require.NoError(t, err)
	require.Equal(t, int32(3), attempts.Load())

	rows := logs.all()
	require.Len(t, rows, 1)
	require.Nil(t, rows[0].ErrorMessage)
	require.Equal(t, http.StatusOK, *rows[0].StatusCode)
}

func TestDeliverTimeoutIsRetryable(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	exec := newExecutor(&memoryLogs{})
	exec.Timeout = 10 * time.Millisecond
	err := exec.Deliver(context.Background(), hook("wh-1", srv.URL, "payment.confirmed"), testEvent())
	require.Error(t, err)
	require.Equal(t, int32(3), attempts.Load())
}

func TestDeliverRejectsNonLocalPlainHTTP(t *testing.T) {
	logs := &memoryLogs{}
	err := newExecutor(logs).Deliver(context.Background(), hook("wh-1", "http://example.com/hook", "payment.confirmed"), testEvent())
	require.Error(t, err)

	rows := logs.all()
	require.Len(t, rows, 1)
	require.Nil(t, rows[0].StatusCode)
	require.NotNil(t, rows[0].ErrorMessage)
}
