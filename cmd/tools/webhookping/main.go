// webhookping sends one signed test event to a webhook endpoint using the
// same delivery path production uses, so endpoint owners can verify their
// signature checks before going live.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenpay/backend-pay/internal/dispatch"
	"github.com/lumenpay/backend-pay/internal/domain"
)

type stdoutLogs struct{}

func (stdoutLogs) InsertWebhookLog(_ context.Context, row domain.WebhookLog) error {
	encoded, err := json.MarshalIndent(row, "", "  ")
	if err != nil {
		return err
	}
	log.Printf("delivery log:\n%s", encoded)
	return nil
}

func main() {
	url := flag.String("url", "", "endpoint URL to ping (required)")
	secret := flag.String("secret", "", "signing secret (required)")
	eventType := flag.String("event", string(domain.EventPaymentConfirmed), "event type to send")
	payload := flag.String("payload", `{"ping":true}`, "JSON payload for the event data field")
	timeout := flag.Duration("timeout", 10*time.Second, "per-attempt timeout")
	attempts := flag.Int("attempts", 3, "max delivery attempts")
	flag.Parse()

	if *url == "" || *secret == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !domain.KnownEventType(*eventType) {
		log.Fatalf("unknown event type %q", *eventType)
	}
	if !json.Valid([]byte(*payload)) {
		log.Fatalf("payload is not valid JSON")
	}

	executor := &dispatch.Executor{
		Logs:        stdoutLogs{},
		MaxAttempts: *attempts,
		Timeout:     *timeout,
		Logger:      zerolog.New(os.Stderr).With().Timestamp().Logger(),
	}
	webhook := domain.Webhook{
		ID:     "hook_ping",
		URL:    *url,
		Secret: *secret,
		Events: []string{*eventType},
	}
	event := domain.NewEvent(domain.EventType(*eventType), json.RawMessage(*payload))

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*attempts)*(*timeout)+30*time.Second)
	defer cancel()

	if err := executor.Deliver(ctx, webhook, event); err != nil {
		log.Fatalf("delivery failed: %v", err)
	}
	log.Printf("delivered event %s to %s", event.ID, *url)
}
