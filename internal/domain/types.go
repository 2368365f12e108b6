package domain

import "time"

// Environment distinguishes the Stellar network a record belongs to. Every
// store read and write is scoped by organization and environment so testnet
// activity can never leak into mainnet state (or across tenants).
type Environment string

const (
	EnvTestnet Environment = "testnet"
	EnvMainnet Environment = "mainnet"
)

// Valid reports whether the environment is one of the known networks.
func (e Environment) Valid() bool {
	return e == EnvTestnet || e == EnvMainnet
}

// CheckoutStatus enumerates checkout lifecycle states. Transitions are
// open -> completed or open -> failed/expired; terminal states are immutable.
type CheckoutStatus string

const (
	CheckoutOpen      CheckoutStatus = "open"
	CheckoutCompleted CheckoutStatus = "completed"
	CheckoutExpired   CheckoutStatus = "expired"
	CheckoutFailed    CheckoutStatus = "failed"
)

// PaymentStatus enumerates settlement states for a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
)

// Checkout is a purchase intent awaiting payment.
type Checkout struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	CustomerID     string            `json:"customer_id"`
	ProductID      string            `json:"product_id,omitempty"`
	Amount         int64             `json:"amount"`
	Status         CheckoutStatus    `json:"status"`
	Environment    Environment       `json:"environment"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Payment records one settlement attempt tied to a checkout. Amount is
// denominated in stroops (10^-7 of the display unit). TransactionHash is
// unique per environment and serves as the reconciliation idempotency key.
type Payment struct {
	ID              string        `json:"id"`
	OrganizationID  string        `json:"organization_id"`
	CheckoutID      string        `json:"checkout_id"`
	CustomerID      string        `json:"customer_id"`
	Amount          int64         `json:"amount"`
	TransactionHash string        `json:"transaction_hash"`
	Status          PaymentStatus `json:"status"`
	Environment     Environment   `json:"environment"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Webhook is an organization-configured endpoint subscribed to a subset of
// event types. Secrets are stored hashed; the raw secret used for signing is
// only available at delivery time.
type Webhook struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organization_id"`
	URL            string      `json:"url"`
	Secret         string      `json:"-"`
	Events         []string    `json:"events"`
	IsDisabled     bool        `json:"is_disabled"`
	Environment    Environment `json:"environment"`
}

// SubscribedTo reports whether the webhook's event set contains the type.
// Matching is exact; event types form a fixed enumerated set.
func (w Webhook) SubscribedTo(eventType EventType) bool {
	for _, e := range w.Events {
		if e == string(eventType) {
			return true
		}
	}
	return false
}

// WebhookLog is one append-only row per logical delivery (retries included in
// the single outcome). Error rate and average latency are derived from these
// rows, never stored.
type WebhookLog struct {
	ID           string      `json:"id"`
	WebhookID    string      `json:"webhook_id"`
	Environment  Environment `json:"environment"`
	StatusCode   *int        `json:"status_code,omitempty"`
	ResponseTime int64       `json:"response_time"`
	ErrorMessage *string     `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
