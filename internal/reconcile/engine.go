// Package reconcile bridges the ledger's transaction stream to internal
// payment and checkout state, exactly once per transaction hash.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenpay/backend-pay/internal/dispatch"
	"github.com/lumenpay/backend-pay/internal/domain"
	"github.com/lumenpay/backend-pay/internal/ledger"
	"github.com/lumenpay/backend-pay/internal/obs"
	"github.com/lumenpay/backend-pay/internal/store"
	"github.com/lumenpay/backend-pay/internal/task"
)

// ErrCheckoutMismatch marks a memo whose checkout id does not match the
// expected checkout context. Treated like an invalid memo: skipped, logged,
// never fatal to the stream.
var ErrCheckoutMismatch = errors.New("reconcile: memo checkout mismatch")

// Store is the persistence surface the engine needs.
type Store interface {
	ConfirmCheckoutPayment(ctx context.Context, checkoutID, orgID string, env domain.Environment, payment domain.Payment) (domain.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id, orgID string, env domain.Environment, status domain.PaymentStatus) error
}

// Trigger fans out a webhook event; satisfied by dispatch.Engine.
type Trigger interface {
	Trigger(ctx context.Context, orgID string, eventType domain.EventType, payload json.RawMessage, env domain.Environment) (dispatch.Result, error)
}

// Engine applies confirmed ledger transactions to payment state and hands
// webhook notification off to an async boundary.
type Engine struct {
	Store     Store
	Ledger    ledger.Client
	Dispatch  Trigger
	Tasks     *task.Runner
	Replay    ReplayProtector
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// OnIncomingTransaction reconciles one streamed transaction against the
// expected checkout. The memo must decode to a payment payload naming the
// checkout; the checkout transition and payment creation commit atomically.
// A redelivered hash is a no-op. Webhook delivery runs fire-and-forget and
// can never roll back the committed state.
func (e *Engine) OnIncomingTransaction(ctx context.Context, tx ledger.Transaction, checkout domain.Checkout, orgID string, env domain.Environment) error {
	memo, err := DecodeMemo(tx.Memo)
	if err != nil {
		if obs.ReconcileMemoInvalidTotal != nil {
			obs.ReconcileMemoInvalidTotal.Inc()
		}
		return err
	}
	if memo.CheckoutID != checkout.ID {
		return fmt.Errorf("%w: memo names %q, expected %q", ErrCheckoutMismatch, memo.CheckoutID, checkout.ID)
	}
	amount, err := ToStroops(memo.Amount)
	if err != nil {
		return err
	}

	guarded := false
	if e.Replay != nil && e.ReplayTTL > 0 {
		fresh, err := e.Replay.Acquire(ctx, replayKey(env, tx.Hash), e.ReplayTTL)
		if err != nil {
			return fmt.Errorf("reconcile: replay guard: %w", err)
		}
		if !fresh {
			if obs.ReconcileDuplicatesTotal != nil {
				obs.ReconcileDuplicatesTotal.Inc()
			}
			e.Logger.Debug().Str("tx_hash", tx.Hash).Msg("reconcile_replay_suppressed")
			return nil
		}
		guarded = true
	}

	payment := domain.Payment{
		OrganizationID:  orgID,
		CheckoutID:      checkout.ID,
		CustomerID:      checkout.CustomerID,
		Amount:          amount,
		TransactionHash: tx.Hash,
		Status:          domain.PaymentConfirmed,
		Environment:     env,
	}
	created, err := e.Store.ConfirmCheckoutPayment(ctx, checkout.ID, orgID, env, payment)
	if errors.Is(err, store.ErrDuplicatePayment) {
		if obs.ReconcileDuplicatesTotal != nil {
			obs.ReconcileDuplicatesTotal.Inc()
		}
		e.Logger.Debug().Str("tx_hash", tx.Hash).Msg("reconcile_duplicate_payment")
		return nil
	}
	if err != nil {
		// the payment never committed: drop the replay key so a stream
		// redelivery of this hash can still reach the database
		if guarded {
			if relErr := e.Replay.Release(ctx, replayKey(env, tx.Hash)); relErr != nil {
				e.Logger.Error().Err(relErr).Str("tx_hash", tx.Hash).Msg("reconcile_replay_release_failed")
			}
		}
		return fmt.Errorf("reconcile: confirm checkout payment: %w", err)
	}
	if obs.ReconcileTransactionsTotal != nil {
		obs.ReconcileTransactionsTotal.WithLabelValues("confirmed").Inc()
	}
	e.Logger.Info().
		Str("tx_hash", tx.Hash).
		Str("checkout_id", checkout.ID).
		Str("payment_id", created.ID).
		Str("environment", string(env)).
		Msg("payment_confirmed")

	e.notifyConfirmed(created)
	return nil
}

// notifyConfirmed hands the webhook trigger to the async runner. The caller
// holds no reference to the outcome; dispatch failures surface only in logs
// and metrics.
func (e *Engine) notifyConfirmed(payment domain.Payment) {
	if e.Dispatch == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"payment_id":  payment.ID,
		"checkout_id": payment.CheckoutID,
	})
	if err != nil {
		e.Logger.Error().Err(err).Msg("encode webhook payload")
		return
	}
	run := func(ctx context.Context) error {
		result, err := e.Dispatch.Trigger(ctx, payment.OrganizationID, domain.EventPaymentConfirmed, payload, payment.Environment)
		if err != nil {
			return err
		}
		e.Logger.Info().
			Str("payment_id", payment.ID).
			Int("delivered", result.Delivered).
			Int("failed", result.Failed).
			Msg("payment_confirmed_webhooks_settled")
		return nil
	}
	if e.Tasks != nil {
		e.Tasks.Go("webhook-payment-confirmed", run)
		return
	}
	// no runner configured (tests); still isolate from the caller
	go func() {
		if err := run(context.Background()); err != nil {
			e.Logger.Error().Err(err).Msg("webhook-payment-confirmed")
		}
	}()
}

// RefreshTxStatus re-queries the ledger for a payment's transaction and
// writes exactly one of the two terminal statuses. A ledger error propagates
// without touching payment state.
func (e *Engine) RefreshTxStatus(ctx context.Context, paymentID, txHash, orgID string, env domain.Environment) error {
	result, err := e.Ledger.RetrieveTransaction(ctx, txHash)
	if err != nil {
		return fmt.Errorf("reconcile: retrieve transaction: %w", err)
	}
	status := domain.PaymentFailed
	if result.Successful {
		status = domain.PaymentConfirmed
	}
	if err := e.Store.UpdatePaymentStatus(ctx, paymentID, orgID, env, status); err != nil {
		return fmt.Errorf("reconcile: update payment status: %w", err)
	}
	return nil
}
