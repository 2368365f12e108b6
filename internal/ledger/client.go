// Package ledger defines the client port for the public-ledger service the
// reconciler consumes: transaction lookup by hash and a long-lived stream of
// an account's incoming transactions.
package ledger

import (
	"context"
	"errors"
)

// ErrTransactionNotFound is returned when the ledger has no record of the hash.
var ErrTransactionNotFound = errors.New("ledger: transaction not found")

// TxResult is the outcome of a transaction lookup.
type TxResult struct {
	Successful bool
}

// Transaction is one message from the account stream. Memo is nil when the
// transaction carries no memo.
type Transaction struct {
	Hash        string
	Memo        *string
	PagingToken string
}

// Subscription is a typed event source for an account's transactions. The
// messages channel delivers transactions in the order received; the errors
// channel carries stream-level failures that did not terminate the
// subscription. Both channels close when the subscription ends.
type Subscription struct {
	Transactions <-chan Transaction
	Errors       <-chan error
}

// Client is the ledger service contract.
type Client interface {
	RetrieveTransaction(ctx context.Context, hash string) (TxResult, error)
	StreamTransactions(ctx context.Context, account string) (*Subscription, error)
}
