package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenpay/backend-pay/internal/domain"
)

const uniqueViolation = "23505"

// Postgres implements the persistence port on a pgx connection pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres wraps a pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

// GetCheckout loads a checkout within the organization+environment scope.
func (p *Postgres) GetCheckout(ctx context.Context, id, orgID string, env domain.Environment) (domain.Checkout, error) {
	row := p.Pool.QueryRow(ctx, `
		SELECT id, organization_id, customer_id, COALESCE(product_id, ''), amount, status, environment, created_at, updated_at
		FROM checkouts
		WHERE id = $1 AND organization_id = $2 AND environment = $3`,
		id, orgID, env)
	var c domain.Checkout
	err := row.Scan(&c.ID, &c.OrganizationID, &c.CustomerID, &c.ProductID, &c.Amount, &c.Status, &c.Environment, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Checkout{}, ErrNotFound
	}
	if err != nil {
		return domain.Checkout{}, fmt.Errorf("get checkout: %w", err)
	}
	return c, nil
}

// GetCheckoutByID resolves a checkout within an environment when the owning
// organization is not yet known, e.g. while correlating a streamed ledger
// transaction. The returned row carries its organization id.
func (p *Postgres) GetCheckoutByID(ctx context.Context, id string, env domain.Environment) (domain.Checkout, error) {
	row := p.Pool.QueryRow(ctx, `
		SELECT id, organization_id, customer_id, COALESCE(product_id, ''), amount, status, environment, created_at, updated_at
		FROM checkouts
		WHERE id = $1 AND environment = $2`,
		id, env)
	var c domain.Checkout
	err := row.Scan(&c.ID, &c.OrganizationID, &c.CustomerID, &c.ProductID, &c.Amount, &c.Status, &c.Environment, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Checkout{}, ErrNotFound
	}
	if err != nil {
		return domain.Checkout{}, fmt.Errorf("get checkout: %w", err)
	}
	return c, nil
}

// ConfirmCheckoutPayment transitions the checkout from open to completed and
// inserts the confirmed payment in a single transaction. A redelivered
// transaction hash surfaces as ErrDuplicatePayment and leaves all state
// untouched.
func (p *Postgres) ConfirmCheckoutPayment(ctx context.Context, checkoutID, orgID string, env domain.Environment, payment domain.Payment) (domain.Payment, error) {
	tx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Payment{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := completeCheckout(ctx, tx, checkoutID, orgID, env); err != nil {
		return domain.Payment{}, err
	}
	created, err := insertPayment(ctx, tx, payment)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Payment{}, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

func completeCheckout(ctx context.Context, tx pgx.Tx, id, orgID string, env domain.Environment) error {
	tag, err := tx.Exec(ctx, `
		UPDATE checkouts SET status = $4, updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND environment = $3 AND status = $5`,
		id, orgID, env, domain.CheckoutCompleted, domain.CheckoutOpen)
	if err != nil {
		return fmt.Errorf("complete checkout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM checkouts WHERE id = $1 AND organization_id = $2 AND environment = $3)`,
			id, orgID, env).Scan(&exists); err != nil {
			return fmt.Errorf("complete checkout: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

func insertPayment(ctx context.Context, tx pgx.Tx, payment domain.Payment) (domain.Payment, error) {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO payments (id, organization_id, checkout_id, customer_id, amount, transaction_hash, status, environment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		payment.ID, payment.OrganizationID, payment.CheckoutID, payment.CustomerID,
		payment.Amount, payment.TransactionHash, payment.Status, payment.Environment)
	if err := row.Scan(&payment.CreatedAt, &payment.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.Payment{}, ErrDuplicatePayment
		}
		return domain.Payment{}, fmt.Errorf("insert payment: %w", err)
	}
	return payment, nil
}

// FailCheckout moves an open checkout to failed or expired. Terminal
// checkouts are immutable so a non-open checkout yields ErrConflict; a
// checkout missing from the scope yields ErrNotFound.
func (p *Postgres) FailCheckout(ctx context.Context, id, orgID string, env domain.Environment, status domain.CheckoutStatus) error {
	if status != domain.CheckoutFailed && status != domain.CheckoutExpired {
		return fmt.Errorf("%w: %q is not a failure status", ErrConflict, status)
	}
	tag, err := p.Pool.Exec(ctx, `
		UPDATE checkouts SET status = $4, updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND environment = $3 AND status = $5`,
		id, orgID, env, status, domain.CheckoutOpen)
	if err != nil {
		return fmt.Errorf("fail checkout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := p.Pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM checkouts WHERE id = $1 AND organization_id = $2 AND environment = $3)`,
			id, orgID, env).Scan(&exists); err != nil {
			return fmt.Errorf("fail checkout: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// UpdatePaymentStatus sets the payment's terminal status.
func (p *Postgres) UpdatePaymentStatus(ctx context.Context, id, orgID string, env domain.Environment, status domain.PaymentStatus) error {
	tag, err := p.Pool.Exec(ctx, `
		UPDATE payments SET status = $4, updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND environment = $3`,
		id, orgID, env, status)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEnabledWebhooks returns the organization's enabled endpoints for the
// environment. Subscription filtering by event type happens in dispatch.
func (p *Postgres) ListEnabledWebhooks(ctx context.Context, orgID string, env domain.Environment) ([]domain.Webhook, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT id, organization_id, url, secret, events, is_disabled, environment
		FROM webhooks
		WHERE organization_id = $1 AND environment = $2 AND is_disabled = false`,
		orgID, env)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []domain.Webhook
	for rows.Next() {
		var w domain.Webhook
		if err := rows.Scan(&w.ID, &w.OrganizationID, &w.URL, &w.Secret, &w.Events, &w.IsDisabled, &w.Environment); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		hooks = append(hooks, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return hooks, nil
}

// InsertWebhookLog appends one row per logical delivery.
func (p *Postgres) InsertWebhookLog(ctx context.Context, log domain.WebhookLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO webhook_logs (id, webhook_id, environment, status_code, response_time, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ID, log.WebhookID, log.Environment, log.StatusCode, log.ResponseTime, log.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", err)
	}
	return nil
}
