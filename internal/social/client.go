// Package social announces published posts on external networks.
// Deliveries are queued in postgres and drained by a polling worker with
// exponential backoff, so a network outage never blocks publishing.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	// ClientTimeout is the total request timeout.
	ClientTimeout = 30 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 10 * time.Second
	// TLSHandshakeTimeout is the TLS negotiation timeout.
	TLSHandshakeTimeout = 10 * time.Second
	// ResponseHeaderTimeout is time to wait for response headers.
	ResponseHeaderTimeout = 15 * time.Second
)

// ErrUnknownNetwork is returned for deliveries targeting a network
// with no configured poster.
var ErrUnknownNetwork = errors.New("unknown social network")

// PostError describes a non-2xx network response.
type PostError struct {
	StatusCode int
	Body       string
}

func (e *PostError) Error() string {
	return fmt.Sprintf("network returned HTTP %d", e.StatusCode)
}

// Permanent reports whether retrying cannot help (auth or request errors,
// except rate limiting).
func (e *PostError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// Poster publishes one status message to a network.
type Poster interface {
	// Post publishes message and returns the remote status ID, if any.
	Post(ctx context.Context, message string) (remoteID string, err error)
}

// NewHTTPClient creates an HTTP client configured for network delivery.
// It has appropriate timeouts and does not follow redirects.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: ClientTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   TLSHandshakeTimeout,
			ResponseHeaderTimeout: ResponseHeaderTimeout,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// MastodonClient posts statuses to a Mastodon-compatible instance.
type MastodonClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewMastodonClient creates a poster for a Mastodon instance.
func NewMastodonClient(baseURL, token string) *MastodonClient {
	return &MastodonClient{
		baseURL: baseURL,
		token:   token,
		http:    NewHTTPClient(),
	}
}

// Post publishes a status via POST /api/v1/statuses.
func (c *MastodonClient) Post(ctx context.Context, message string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"status":     message,
		"visibility": "public",
	})
	if err != nil {
		return "", fmt.Errorf("marshal status: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/statuses", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "Quill-Social/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &PostError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	var status struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}

	return status.ID, nil
}

// WebhookClient posts the announcement as a JSON payload to a fixed URL.
// Covers chat integrations (Discord, Slack) that accept incoming webhooks.
type WebhookClient struct {
	targetURL string
	http      *http.Client
}

// NewWebhookClient creates a poster that delivers to a webhook URL.
func NewWebhookClient(targetURL string) *WebhookClient {
	return &WebhookClient{
		targetURL: targetURL,
		http:      NewHTTPClient(),
	}
}

// Post delivers the message as {"content": ...}.
func (c *WebhookClient) Post(ctx context.Context, message string) (string, error) {
	payload, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.targetURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Quill-Social/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &PostError{StatusCode: resp.StatusCode}
	}

	// Webhook targets have no status ID.
	return "", nil
}
