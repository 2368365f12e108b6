// Package store implements the persistence port for checkouts, payments,
// webhooks and webhook delivery logs on Postgres. Every operation is scoped
// by organization and environment.
package store

import "errors"

var (
	// ErrNotFound indicates the target row does not exist in the given
	// organization+environment scope.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict indicates a conditional update found the row in a state
	// other than the expected prior state. The update is a no-op.
	ErrConflict = errors.New("store: state conflict")
	// ErrDuplicatePayment indicates a payment with the same transaction hash
	// already exists in the environment. At most one payment may exist per
	// (hash, environment).
	ErrDuplicatePayment = errors.New("store: duplicate payment")
)
