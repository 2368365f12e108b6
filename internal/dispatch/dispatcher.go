// Package dispatch resolves which of an organization's webhook endpoints
// should receive an event and delivers to each independently.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lumenpay/backend-pay/internal/domain"
	"github.com/lumenpay/backend-pay/internal/obs"
)

// Store lists the organization's enabled webhook endpoints.
type Store interface {
	ListEnabledWebhooks(ctx context.Context, orgID string, env domain.Environment) ([]domain.Webhook, error)
}

// Deliverer performs one logical delivery to a single endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, webhook domain.Webhook, event domain.Event) error
}

// Result aggregates the settled outcomes of one trigger.
type Result struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Engine fans an event out to all subscribed endpoints.
type Engine struct {
	Store    Store
	Executor Deliverer
	Logger   zerolog.Logger
}

// Trigger resolves the subscribed, enabled webhooks for (orgID, env), filters
// by event type and delivers to each in parallel, waiting for every delivery
// to settle. One endpoint's failure never affects the others and never fails
// the trigger; only a store enumeration failure returns an error.
func (e *Engine) Trigger(ctx context.Context, orgID string, eventType domain.EventType, payload json.RawMessage, env domain.Environment) (Result, error) {
	ctx, span := otel.Tracer("dispatch.Engine").Start(ctx, "Engine.Trigger")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_type", string(eventType)),
		attribute.String("webhook.environment", string(env)),
	)
	if obs.WebhookTriggerEvents != nil {
		obs.WebhookTriggerEvents.WithLabelValues(string(eventType)).Inc()
	}

	hooks, err := e.Store.ListEnabledWebhooks(ctx, orgID, env)
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("dispatch: list webhooks: %w", err)
	}
	subscribed := hooks[:0:0]
	for _, hook := range hooks {
		if hook.SubscribedTo(eventType) {
			subscribed = append(subscribed, hook)
		}
	}
	if len(subscribed) == 0 {
		return Result{}, nil
	}

	event := domain.NewEvent(eventType, payload)
	span.SetAttributes(
		attribute.String("webhook.event_id", event.ID),
		attribute.Int("webhook.recipients", len(subscribed)),
	)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
		failed    int
	)
	for _, hook := range subscribed {
		wg.Add(1)
		go func(hook domain.Webhook) {
			defer wg.Done()
			err := e.Executor.Deliver(ctx, hook, event)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				e.Logger.Warn().
					Err(err).
					Str("webhook_id", hook.ID).
					Str("event_id", event.ID).
					Str("event_type", string(eventType)).
					Msg("webhook_delivery_failed")
				return
			}
			delivered++
		}(hook)
	}
	wg.Wait()

	return Result{Delivered: delivered, Failed: failed}, nil
}
