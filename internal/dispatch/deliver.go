package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lumenpay/backend-pay/internal/domain"
	"github.com/lumenpay/backend-pay/internal/obs"
	"github.com/lumenpay/backend-pay/internal/resilience"
	"github.com/lumenpay/backend-pay/internal/signature"
)

// LogStore appends one row per logical delivery.
type LogStore interface {
	InsertWebhookLog(ctx context.Context, log domain.WebhookLog) error
}

// Executor performs a single logical webhook delivery: signed POST with a
// per-attempt timeout, bounded retries for transient failures, and exactly
// one log row recording the final outcome.
type Executor struct {
	Client      *http.Client
	Logs        LogStore
	MaxAttempts int
	BackoffBase time.Duration
	Jitter      float64
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// Deliver sends the event to the webhook's endpoint. It returns nil when the
// endpoint acknowledged with a 2xx status, the final error otherwise. Retries
// happen only for transient failures (connection errors, timeouts, 429, 5xx);
// 4xx business rejections are final on the first attempt.
func (x *Executor) Deliver(ctx context.Context, webhook domain.Webhook, event domain.Event) error {
	ctx, span := otel.Tracer("dispatch.Executor").Start(ctx, "Executor.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.id", webhook.ID),
		attribute.String("webhook.event_id", event.ID),
	)

	start := time.Now()
	status, err := x.attemptAll(ctx, webhook, event)
	elapsed := time.Since(start)

	outcome := "delivered"
	if err != nil {
		outcome = "failed"
		span.RecordError(err)
	}
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues(outcome).Inc()
	}
	if obs.WebhookAttemptLatency != nil {
		obs.WebhookAttemptLatency.WithLabelValues(outcome).Observe(obs.DurationMillis(elapsed))
	}

	logRow := domain.WebhookLog{
		WebhookID:    webhook.ID,
		Environment:  webhook.Environment,
		ResponseTime: elapsed.Milliseconds(),
	}
	if status > 0 {
		code := status
		logRow.StatusCode = &code
	}
	if err != nil {
		msg := err.Error()
		logRow.ErrorMessage = &msg
	}
	if x.Logs != nil {
		if logErr := x.Logs.InsertWebhookLog(ctx, logRow); logErr != nil {
			// the delivery outcome stands; losing the log row is an
			// observability gap, not a delivery failure
			x.Logger.Error().Err(logErr).Str("webhook_id", webhook.ID).Msg("webhook_log_write_failed")
		}
	}
	return err
}

// attemptAll runs the bounded retry loop. It returns the last HTTP status
// observed (0 when no response was received) and the final error.
func (x *Executor) attemptAll(ctx context.Context, webhook domain.Webhook, event domain.Event) (int, error) {
	if err := validateURL(webhook.URL); err != nil {
		return 0, err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("encode event: %w", err)
	}

	maxAttempts := x.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoffBase := x.BackoffBase
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}

	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := x.attemptOnce(ctx, webhook, body)
		if err == nil && status >= 200 && status < 300 {
			return status, nil
		}
		lastStatus = status
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("endpoint returned status %d", status)
		}
		if !resilience.Retryable(status, err) {
			break
		}
		if attempt == maxAttempts {
			break
		}
		x.Logger.Debug().
			Str("webhook_id", webhook.ID).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("webhook_attempt_retry")
		timer := time.NewTimer(resilience.Backoff(backoffBase, attempt, x.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastStatus, ctx.Err()
		case <-timer.C:
		}
	}
	return lastStatus, lastErr
}

func (x *Executor) attemptOnce(ctx context.Context, webhook domain.Webhook, body []byte) (int, error) {
	timeout := x.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "lumenpay-webhooks/1.0")
	req.Header.Set(signature.HeaderName, signature.Header(webhook.Secret, ts, body))

	client := x.Client
	if client == nil {
		client = defaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

var defaultClient = &http.Client{
	Transport: otelhttp.NewTransport(http.DefaultTransport),
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	return nil
}
