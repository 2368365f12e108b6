package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lumenpay/backend-pay/internal/domain"
	"github.com/lumenpay/backend-pay/internal/ledger"
	"github.com/lumenpay/backend-pay/internal/reconcile"
	"github.com/lumenpay/backend-pay/internal/store"
)

type streamLedger struct {
	txs  chan ledger.Transaction
	errs chan error
}

func newStreamLedger() *streamLedger {
	return &streamLedger{
		txs:  make(chan ledger.Transaction, 8),
		errs: make(chan error, 8),
	}
}

func (s *streamLedger) RetrieveTransaction(context.Context, string) (ledger.TxResult, error) {
	return ledger.TxResult{}, ledger.ErrTransactionNotFound
}

func (s *streamLedger) StreamTransactions(context.Context, string) (*ledger.Subscription, error) {
	return &ledger.Subscription{Transactions: s.txs, Errors: s.errs}, nil
}

type fakeResolver struct {
	checkouts map[string]domain.Checkout
}

func (f fakeResolver) GetCheckoutByID(_ context.Context, id string, _ domain.Environment) (domain.Checkout, error) {
	c, ok := f.checkouts[id]
	if !ok {
		return domain.Checkout{}, store.ErrNotFound
	}
	return c, nil
}

func runListener(t *testing.T, st *fakeStore, led *streamLedger, resolver fakeResolver) (context.CancelFunc, chan error) {
	t.Helper()
	listener := &reconcile.Listener{
		Engine:      &reconcile.Engine{Store: st, Logger: zerolog.Nop()},
		Ledger:      led,
		Checkouts:   resolver,
		Account:     "GACC",
		Environment: domain.EnvTestnet,
		Logger:      zerolog.Nop(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()
	return cancel, done
}

func waitConfirmed(t *testing.T, st *fakeStore, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st.mu.Lock()
		n := len(st.confirmed)
		st.mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d confirmed payments", want)
}

func TestListenerReconcilesStreamedTransactions(t *testing.T) {
	st := &fakeStore{}
	led := newStreamLedger()
	resolver := fakeResolver{checkouts: map[string]domain.Checkout{"chk_1": testCheckout()}}

	cancel, done := runListener(t, st, led, resolver)
	defer cancel()

	led.txs <- memoTx("h1", "chk_1", "12.5")
	waitConfirmed(t, st, 1)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Equal(t, "h1", st.confirmed[0].TransactionHash)
}

func TestListenerContainsBadMessages(t *testing.T) {
	st := &fakeStore{}
	led := newStreamLedger()
	resolver := fakeResolver{checkouts: map[string]domain.Checkout{"chk_1": testCheckout()}}

	cancel, done := runListener(t, st, led, resolver)
	defer cancel()

	garbage := "not a memo"
	led.txs <- ledger.Transaction{Hash: "bad1", Memo: &garbage} // malformed memo
	led.txs <- ledger.Transaction{Hash: "bad2"}                 // no memo at all
	led.txs <- memoTx("bad3", "chk_ghost", "12.5")              // unknown checkout
	led.errs <- context.DeadlineExceeded                        // transient stream error
	led.txs <- memoTx("good", "chk_1", "12.5")

	waitConfirmed(t, st, 1)
	require.Len(t, st.confirmed, 1)
	require.Equal(t, "good", st.confirmed[0].TransactionHash)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestListenerProcessesInArrivalOrder(t *testing.T) {
	st := &fakeStore{}
	led := newStreamLedger()
	second := testCheckout()
	second.ID = "chk_2"
	resolver := fakeResolver{checkouts: map[string]domain.Checkout{
		"chk_1": testCheckout(),
		"chk_2": second,
	}}

	cancel, done := runListener(t, st, led, resolver)
	defer cancel()

	led.txs <- memoTx("t1", "chk_1", "1")
	led.txs <- memoTx("t2", "chk_2", "2")
	waitConfirmed(t, st, 2)

	require.Equal(t, "t1", st.confirmed[0].TransactionHash)
	require.Equal(t, "t2", st.confirmed[1].TransactionHash)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
