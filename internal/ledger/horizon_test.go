package ledger_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lumenpay/backend-pay/internal/ledger"
	"github.com/lumenpay/backend-pay/internal/resilience"
)

func newHorizon(t *testing.T, srv *httptest.Server) *ledger.Horizon {
	t.Helper()
	return &ledger.Horizon{
		BaseURL: srv.URL,
		HTTP: &resilience.HTTPClient{
			Client:      srv.Client(),
			MaxAttempts: 1,
			Timeout:     2 * time.Second,
			Target:      "horizon",
		},
		StreamClient:  srv.Client(),
		ReconnectBase: 10 * time.Millisecond,
		Logger:        zerolog.Nop(),
	}
}

func TestRetrieveTransactionSuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transactions/abc123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"hash":"abc123","successful":true,"memo":"{\"amount\":1,\"checkoutId\":\"c1\"}"}`)
	}))
	t.Cleanup(srv.Close)

	result, err := newHorizon(t, srv).RetrieveTransaction(context.Background(), "abc123")
	require.NoError(t, err)
	require.True(t, result.Successful)
}

func TestRetrieveTransactionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"hash":"abc123","successful":false}`)
	}))
	t.Cleanup(srv.Close)

	result, err := newHorizon(t, srv).RetrieveTransaction(context.Background(), "abc123")
	require.NoError(t, err)
	require.False(t, result.Successful)
}

func TestRetrieveTransactionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := newHorizon(t, srv).RetrieveTransaction(context.Background(), "missing")
	require.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestStreamTransactionsDeliversMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: \"hello\"\n\n")
		fmt.Fprint(w, "data: {\"hash\":\"tx1\",\"memo\":\"{\\\"amount\\\":12.5,\\\"checkoutId\\\":\\\"c1\\\"}\",\"paging_token\":\"100\"}\n\n")
		fmt.Fprint(w, "data: {\"hash\":\"tx2\",\"memo\":null,\"paging_token\":\"101\"}\n\n")
		flusher.Flush()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sub, err := newHorizon(t, srv).StreamTransactions(ctx, "GABC")
	require.NoError(t, err)

	first := <-sub.Transactions
	require.Equal(t, "tx1", first.Hash)
	require.NotNil(t, first.Memo)
	require.Contains(t, *first.Memo, "checkoutId")

	second := <-sub.Transactions
	require.Equal(t, "tx2", second.Hash)
	require.Nil(t, second.Memo)

	cancel()
	for range sub.Transactions {
	}
}

func TestStreamTransactionsReconnects(t *testing.T) {
	connections := make(chan string, 8)
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		connections <- r.URL.Query().Get("cursor")
		w.Header().Set("Content-Type", "text/event-stream")
		if calls == 1 {
			fmt.Fprint(w, "data: {\"hash\":\"tx1\",\"paging_token\":\"42\"}\n\n")
		}
		// connection closes; the client should come back with the last cursor
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sub, err := newHorizon(t, srv).StreamTransactions(ctx, "GABC")
	require.NoError(t, err)

	require.Equal(t, "now", <-connections)
	tx := <-sub.Transactions
	require.Equal(t, "tx1", tx.Hash)
	require.Equal(t, "42", <-connections)

	cancel()
	for range sub.Transactions {
	}
}

func TestStreamTransactionsRequiresAccount(t *testing.T) {
	h := &ledger.Horizon{BaseURL: "http://localhost", Logger: zerolog.Nop()}
	_, err := h.StreamTransactions(context.Background(), "  ")
	require.Error(t, err)
}
