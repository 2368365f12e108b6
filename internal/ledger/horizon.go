package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenpay/backend-pay/internal/resilience"
)

// Horizon is a Client backed by a Horizon-compatible HTTP API. Lookups go
// through the retrying HTTP client; the account stream uses Horizon's
// server-sent events endpoint and reconnects with backoff until the context
// is cancelled.
type Horizon struct {
	BaseURL       string
	HTTP          *resilience.HTTPClient
	StreamClient  *http.Client
	ReconnectBase time.Duration
	StreamBuffer  int
	Logger        zerolog.Logger
}

type horizonTransaction struct {
	Hash        string  `json:"hash"`
	Successful  bool    `json:"successful"`
	Memo        *string `json:"memo"`
	PagingToken string  `json:"paging_token"`
}

// RetrieveTransaction looks up a transaction by hash.
func (h *Horizon) RetrieveTransaction(ctx context.Context, hash string) (TxResult, error) {
	if h.HTTP == nil {
		return TxResult{}, errors.New("ledger: http client not configured")
	}
	endpoint := fmt.Sprintf("%s/transactions/%s", strings.TrimRight(h.BaseURL, "/"), url.PathEscape(hash))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return TxResult{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.HTTP.Do(ctx, req)
	if err != nil {
		return TxResult{}, fmt.Errorf("ledger: retrieve transaction: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return TxResult{}, ErrTransactionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return TxResult{}, fmt.Errorf("ledger: retrieve transaction: unexpected status %d", resp.StatusCode)
	}
	var tx horizonTransaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return TxResult{}, fmt.Errorf("ledger: decode transaction: %w", err)
	}
	return TxResult{Successful: tx.Successful}, nil
}

// StreamTransactions opens a long-lived subscription to the account's
// transactions starting from the current cursor. Stream-level errors are
// reported on the error channel and the reader reconnects; only context
// cancellation ends the subscription.
func (h *Horizon) StreamTransactions(ctx context.Context, account string) (*Subscription, error) {
	if strings.TrimSpace(account) == "" {
		return nil, errors.New("ledger: account is required")
	}
	buffer := h.StreamBuffer
	if buffer <= 0 {
		buffer = 16
	}
	txs := make(chan Transaction, buffer)
	errs := make(chan error, 1)
	go h.streamLoop(ctx, account, txs, errs)
	return &Subscription{Transactions: txs, Errors: errs}, nil
}

func (h *Horizon) streamLoop(ctx context.Context, account string, txs chan<- Transaction, errs chan<- error) {
	defer close(txs)
	defer close(errs)

	cursor := "now"
	base := h.ReconnectBase
	if base <= 0 {
		base = time.Second
	}
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		next, err := h.readStream(ctx, account, cursor, txs)
		if next != "" {
			cursor = next
			attempt = 0
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			select {
			case errs <- err:
			default:
			}
			h.Logger.Warn().Err(err).Str("account", account).Msg("ledger_stream_disconnected")
		}
		attempt++
		if attempt > 6 {
			attempt = 6
		}
		timer := time.NewTimer(resilience.Backoff(base, attempt, 0.2))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// readStream consumes one SSE connection until it drops. It returns the most
// recent paging token so the next connection resumes without gaps.
func (h *Horizon) readStream(ctx context.Context, account, cursor string, txs chan<- Transaction) (string, error) {
	client := h.StreamClient
	if client == nil {
		// streaming connections stay open indefinitely; no client timeout
		client = &http.Client{}
	}
	endpoint := fmt.Sprintf("%s/accounts/%s/transactions?cursor=%s&order=asc",
		strings.TrimRight(h.BaseURL, "/"), url.PathEscape(account), url.QueryEscape(cursor))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ledger: stream status %d", resp.StatusCode)
	}

	lastToken := ""
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		// Horizon frames the stream with "hello"/"byebye" string payloads.
		if !strings.HasPrefix(data, "{") {
			continue
		}
		var tx horizonTransaction
		if err := json.Unmarshal([]byte(data), &tx); err != nil {
			h.Logger.Warn().Err(err).Msg("ledger_stream_bad_frame")
			continue
		}
		if tx.PagingToken != "" {
			lastToken = tx.PagingToken
		}
		message := Transaction{Hash: tx.Hash, Memo: tx.Memo, PagingToken: tx.PagingToken}
		select {
		case <-ctx.Done():
			return lastToken, ctx.Err()
		case txs <- message:
		}
	}
	if err := scanner.Err(); err != nil {
		return lastToken, err
	}
	return lastToken, nil
}
