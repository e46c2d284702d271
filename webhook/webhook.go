// Package webhook posts job-run events to a caller-supplied endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/use-agent/llmscrape/retry"
)

// SignatureHeader carries "sha256=<hex HMAC of the body>" when a secret is set.
const SignatureHeader = "X-LLMScrape-Signature"

// Event types.
const (
	JobResult    = "job.result"
	RunCompleted = "run.completed"
)

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string      `json:"type"`
	RunID     string      `json:"run_id"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Notifier delivers events to one endpoint.
type Notifier struct {
	url    string
	secret string
	client *http.Client
	policy retry.Policy
	sleep  func(context.Context, time.Duration) error
	log    zerolog.Logger
}

// Delivery is the retry policy for one event: 4 attempts, 1s to 30s apart.
var Delivery = retry.Policy{MaxAttempts: 4, MinDelay: time.Second, MaxDelay: 30 * time.Second}

// New returns a Notifier posting to url. An empty url yields nil, and a nil
// Notifier drops every event.
func New(url, secret string, log zerolog.Logger) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		policy: Delivery,
		log:    log,
	}
}

// Deliver sends event, retrying 5xx responses and connection errors.
// A 4xx response fails at once.
func (n *Notifier) Deliver(ctx context.Context, event *Event) error {
	if n == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	hooks := retry.Hooks{
		Sleep: n.sleep,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			n.log.Warn().Err(err).
				Str("event", event.Type).
				Int("attempt", attempt).
				Dur("wait", wait).
				Msg("webhook delivery failed, retrying")
		},
	}
	_, err = retry.Do(ctx, n.policy, hooks, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, n.post(ctx, body)
	})
	if err != nil {
		n.log.Error().Err(err).Str("event", event.Type).Str("run_id", event.RunID).Msg("webhook delivery gave up")
		return err
	}
	n.log.Debug().Str("event", event.Type).Str("run_id", event.RunID).Msg("webhook delivered")
	return nil
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("webhook: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "llmscrape-webhook/1.0")
	if n.secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(n.secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return retry.Permanent(fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
