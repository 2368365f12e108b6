package domain

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a notification topic. The set is fixed; extend only by
// adding new members.
type EventType string

const (
	EventCustomerCreated  EventType = "customer.created"
	EventCustomerUpdated  EventType = "customer.updated"
	EventCustomerDeleted  EventType = "customer.deleted"
	EventCheckoutCreated  EventType = "checkout.created"
	EventPaymentPending   EventType = "payment.pending"
	EventPaymentConfirmed EventType = "payment.confirmed"
	EventPaymentFailed    EventType = "payment.failed"
	EventRefundCreated    EventType = "refund.created"
	EventRefundSucceeded  EventType = "refund.succeeded"
	EventRefundFailed     EventType = "refund.failed"
)

// EventTypes returns the canonical list of deliverable event types.
func EventTypes() []EventType {
	return []EventType{
		EventCustomerCreated,
		EventCustomerUpdated,
		EventCustomerDeleted,
		EventCheckoutCreated,
		EventPaymentPending,
		EventPaymentConfirmed,
		EventPaymentFailed,
		EventRefundCreated,
		EventRefundSucceeded,
		EventRefundFailed,
	}
}

// KnownEventType reports whether the string names a member of the fixed set.
func KnownEventType(s string) bool {
	for _, t := range EventTypes() {
		if string(t) == s {
			return true
		}
	}
	return false
}

// Event is the envelope delivered to webhook endpoints.
type Event struct {
	ID      string          `json:"id"`
	Type    EventType       `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// NewEvent builds an envelope with a fresh opaque id and the current time.
func NewEvent(eventType EventType, data json.RawMessage) Event {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return Event{
		ID:      NewEventID(),
		Type:    eventType,
		Created: time.Now().Unix(),
		Data:    data,
	}
}

// NewEventID returns an opaque event identifier of the form evt_<32 hex>.
func NewEventID() string {
	id := uuid.New()
	return "evt_" + hex.EncodeToString(id[:])
}
