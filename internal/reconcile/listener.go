package reconcile

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/lumenpay/backend-pay/internal/domain"
	"github.com/lumenpay/backend-pay/internal/ledger"
	"github.com/lumenpay/backend-pay/internal/obs"
	"github.com/lumenpay/backend-pay/internal/store"
)

// CheckoutResolver locates the checkout a memo refers to within the
// listener's environment.
type CheckoutResolver interface {
	GetCheckoutByID(ctx context.Context, id string, env domain.Environment) (domain.Checkout, error)
}

// Listener subscribes once to the monitored account and reconciles streamed
// transactions one at a time in arrival order. Every per-message failure is
// contained; only context cancellation ends the run.
type Listener struct {
	Engine      *Engine
	Ledger      ledger.Client
	Checkouts   CheckoutResolver
	Account     string
	Environment domain.Environment
	Logger      zerolog.Logger
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	sub, err := l.Ledger.StreamTransactions(ctx, l.Account)
	if err != nil {
		return err
	}
	l.Logger.Info().
		Str("account", l.Account).
		Str("environment", string(l.Environment)).
		Msg("ledger_stream_started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Errors:
			if !ok {
				continue
			}
			if obs.LedgerStreamErrorsTotal != nil {
				obs.LedgerStreamErrorsTotal.Inc()
			}
			l.Logger.Error().Err(err).Msg("ledger_stream_error")
		case tx, ok := <-sub.Transactions:
			if !ok {
				return ctx.Err()
			}
			l.handle(ctx, tx)
		}
	}
}

// handle reconciles a single transaction. Invalid memos, unknown checkouts
// and already-settled checkouts are logged and skipped; infrastructure
// failures are logged too, since a single message must never terminate the
// subscription.
func (l *Listener) handle(ctx context.Context, tx ledger.Transaction) {
	memo, err := DecodeMemo(tx.Memo)
	if err != nil {
		if obs.ReconcileMemoInvalidTotal != nil {
			obs.ReconcileMemoInvalidTotal.Inc()
		}
		l.Logger.Warn().Err(err).Str("tx_hash", tx.Hash).Msg("reconcile_memo_skipped")
		return
	}
	checkout, err := l.Checkouts.GetCheckoutByID(ctx, memo.CheckoutID, l.Environment)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if obs.ReconcileTransactionsTotal != nil {
				obs.ReconcileTransactionsTotal.WithLabelValues("unknown_checkout").Inc()
			}
			l.Logger.Warn().Str("tx_hash", tx.Hash).Str("checkout_id", memo.CheckoutID).Msg("reconcile_unknown_checkout")
			return
		}
		l.Logger.Error().Err(err).Str("tx_hash", tx.Hash).Msg("reconcile_checkout_lookup_failed")
		return
	}
	if err := l.Engine.OnIncomingTransaction(ctx, tx, checkout, checkout.OrganizationID, l.Environment); err != nil {
		outcome := "error"
		if errors.Is(err, ErrInvalidMemo) || errors.Is(err, ErrCheckoutMismatch) || errors.Is(err, store.ErrConflict) {
			outcome = "skipped"
		}
		if obs.ReconcileTransactionsTotal != nil {
			obs.ReconcileTransactionsTotal.WithLabelValues(outcome).Inc()
		}
		l.Logger.Warn().Err(err).Str("tx_hash", tx.Hash).Msg("reconcile_transaction_failed")
	}
}
