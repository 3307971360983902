package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Gamefinder-Signature"

// Config holds configuration for the Webhook client.
type Config struct {
	URL            string        `mapstructure:"url"`
	Secret         string        `mapstructure:"secret"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Client delivers signed JSON payloads to one URL.
type Client struct {
	cfg        Config
	secret     []byte
	httpClient *http.Client
}

// NewClient initializes a new Webhook client
func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 1 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		cfg:    cfg,
		secret: []byte(cfg.Secret),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Payload defines the data structure sent via webhook to consumers.
type Payload struct {
	Timestamp int64 `json:"timestamp"`
	Records   any   `json:"records"`
}

// Send posts records, retrying network errors, 429 and 5xx responses with
// exponential backoff. Other statuses fail immediately.
func (c *Client) Send(ctx context.Context, records any) error {
	body, err := json.Marshal(Payload{
		Timestamp: time.Now().Unix(),
		Records:   records,
	})
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0 // bounded by MaxAttempts
	b.Multiplier = 2.0

	attempts := 0
	operation := func() error {
		attempts++
		return c.attemptSend(ctx, body)
	}
	notify := func(err error, next time.Duration) {
		log.Warn("Webhook delivery failed, retrying", "url", c.cfg.URL, "attempt", attempts, "next_retry_in", next, "err", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("webhook failed after %d attempts: %w", attempts, err)
	}
	return nil
}

func (c *Client) attemptSend(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "gamefinder/v1")
	if len(c.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(c.secret, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature is the hex HMAC-SHA256 of body under secret.
func Verify(secret, body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return hmac.Equal(got, h.Sum(nil))
}
