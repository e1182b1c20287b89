// Package mailer provides the transactional email provider client.
// All mail (newsletter batches, confirm and magic-link messages) goes
// through the provider's JSON-over-HTTP API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	// ClientTimeout is the total request timeout.
	ClientTimeout = 30 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 10 * time.Second
	// ResponseHeaderTimeout is time to wait for response headers.
	ResponseHeaderTimeout = 15 * time.Second

	// MaxBatchSize is the provider's per-request recipient cap.
	MaxBatchSize = 500
)

var (
	// ErrNotConfigured is returned when the mailer has no provider URL.
	ErrNotConfigured = errors.New("mailer not configured")
	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
	ErrBatchTooLarge = errors.New("batch exceeds provider limit")
)

// ProviderError describes a non-2xx provider response.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("mail provider returned HTTP %d", e.StatusCode)
}

// Retryable reports whether the request may be retried later.
// 429 and 5xx are transient; other 4xx are permanent.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Message is a single outbound email.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body,omitempty"`
	TextBody string `json:"text_body,omitempty"`
}

// BatchResult reports per-recipient outcomes for a batch send.
type BatchResult struct {
	Sent   int
	Failed []FailedRecipient
}

// FailedRecipient is one rejected address in a batch.
type FailedRecipient struct {
	Email     string `json:"email"`
	Reason    string `json:"reason"`
	Permanent bool   `json:"permanent"` // Hard bounce / suppressed
}

// Client sends mail through the provider HTTP API.
// A client with an empty base URL is a dev-mode sink that logs and drops.
type Client struct {
	baseURL   string
	token     string
	fromName  string
	fromEmail string
	http      *http.Client
	logger    *slog.Logger
}

// New creates a mail provider client.
func New(baseURL, token, fromName, fromEmail string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   baseURL,
		token:     token,
		fromName:  fromName,
		fromEmail: fromEmail,
		logger:    logger.With("component", "mailer"),
		http: &http.Client{
			Timeout: ClientTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   DialTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ResponseHeaderTimeout: ResponseHeaderTimeout,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

// Enabled reports whether a provider is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// Send delivers a single message (confirm, magic link, etc.).
func (c *Client) Send(ctx context.Context, msg Message) error {
	if !c.Enabled() {
		// Dev mode: log the intent so flows remain testable locally.
		c.logger.Info("mail send skipped (no provider configured)",
			"to", msg.To,
			"subject", msg.Subject,
		)
		return nil
	}

	body := struct {
		From    fromAddress `json:"from"`
		Message Message     `json:"message"`
	}{
		From:    c.from(),
		Message: msg,
	}

	return c.post(ctx, "/v1/messages", body, nil)
}

// SendBatch delivers up to MaxBatchSize messages in one provider call.
// Partial failures are reported per recipient, not as an error.
func (c *Client) SendBatch(ctx context.Context, msgs []Message) (*BatchResult, error) {
	if !c.Enabled() {
		c.logger.Info("mail batch skipped (no provider configured)", "count", len(msgs))
		return &BatchResult{Sent: len(msgs)}, nil
	}

	if len(msgs) > MaxBatchSize {
		return nil, ErrBatchTooLarge
	}

	body := struct {
		From     fromAddress `json:"from"`
		Messages []Message   `json:"messages"`
	}{
		From:     c.from(),
		Messages: msgs,
	}

	var resp struct {
		Sent   int               `json:"sent"`
		Failed []FailedRecipient `json:"failed"`
	}

	if err := c.post(ctx, "/v1/messages/batch", body, &resp); err != nil {
		return nil, err
	}

	return &BatchResult{Sent: resp.Sent, Failed: resp.Failed}, nil
}

type fromAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

func (c *Client) from() fromAddress {
	return fromAddress{Name: c.fromName, Email: c.fromEmail}
}

// post sends a JSON request and optionally decodes a JSON response.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "Quill-Mailer/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mail request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Keep a bounded slice of the body for diagnostics.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &ProviderError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode mail response: %w", err)
		}
	} else {
		// Drain to allow connection reuse.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	}

	return nil
}
