//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/quillhq/quill/internal/auth"
	"github.com/quillhq/quill/internal/model"
	"github.com/quillhq/quill/internal/repository"
)

const systemUserID = "system"

type apiKeyCreateResponse struct {
	ID     string   `json:"id"`
	Key    string   `json:"key"`
	Scopes []string `json:"scopes"`
}

type postResponse struct {
	ID     string `json:"id"`
	Slug   string `json:"slug"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

type deliveryListResponse struct {
	Data []struct {
		ID      string `json:"id"`
		Network string `json:"network"`
		Status  string `json:"status"`
	} `json:"data"`
}

func TestE2ESmoke(t *testing.T) {
	baseURL := envOrDefault("QUILL_BASE_URL", "http://localhost:8080")
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Fatalf("DATABASE_URL is required for e2e tests")
	}

	bootstrapKey := bootstrapAdminKey(t, dbURL)
	testKey := createAPIKey(t, baseURL, bootstrapKey)

	post := createPost(t, baseURL, testKey)
	published := publishPost(t, baseURL, testKey, post.ID)
	if published.Status != "published" {
		t.Fatalf("expected published status, got %q", published.Status)
	}

	waitForFeedEntry(t, baseURL, published.Slug)
	assertDeliveriesVisible(t, baseURL, testKey, post.ID)

	subscribeNewsletter(t, baseURL)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func bootstrapAdminKey(t *testing.T, dbURL string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	defer repo.Close()

	generated, err := auth.GenerateAPIKey(auth.EnvLive)
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}

	apiKey := &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        systemUserID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        []string{model.ScopeAdmin},
		RateLimitTier: model.TierUnlimited,
		Name:          "e2e-bootstrap",
		CreatedAt:     time.Now().UTC(),
	}

	if err := repo.CreateAPIKey(ctx, apiKey); err != nil {
		t.Fatalf("create api key: %v", err)
	}

	return generated.Plaintext
}

func createAPIKey(t *testing.T, baseURL, bootstrapKey string) string {
	t.Helper()

	payload := map[string]any{
		"name":   "e2e-key",
		"scopes": []string{"admin"},
	}

	var resp apiKeyCreateResponse
	status := doJSON(t, http.MethodPost, baseURL+"/v1/api-keys", bootstrapKey, payload, &resp)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 from api key create, got %d", status)
	}
	if resp.Key == "" {
		t.Fatalf("api key response missing key")
	}
	return resp.Key
}

func createPost(t *testing.T, baseURL, apiKey string) postResponse {
	t.Helper()

	slug := fmt.Sprintf("e2e-%d", time.Now().UnixNano())
	payload := map[string]any{
		"title":   "E2E smoke post",
		"slug":    slug,
		"summary": "Created by the e2e suite.",
		"body":    "Hello from the e2e suite.",
	}

	var resp postResponse
	status := doJSON(t, http.MethodPost, baseURL+"/v1/posts", apiKey, payload, &resp)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 from post create, got %d", status)
	}
	if resp.ID == "" || resp.Slug != slug {
		t.Fatalf("post create response missing fields")
	}
	return resp
}

func publishPost(t *testing.T, baseURL, apiKey, postID string) postResponse {
	t.Helper()

	var resp postResponse
	status := doJSON(t, http.MethodPost, baseURL+"/v1/posts/"+postID+"/publish", apiKey, nil, &resp)
	if status != http.StatusOK {
		t.Fatalf("expected 200 from publish, got %d", status)
	}
	return resp
}

func waitForFeedEntry(t *testing.T, baseURL, slug string) {
	t.Helper()

	client := &http.Client{Timeout: 10 * time.Second}
	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/feed.xml")
		if err != nil {
			t.Fatalf("fetch feed: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK && strings.Contains(string(body), slug) {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}

	t.Fatalf("published post %s never appeared in feed", slug)
}

func assertDeliveriesVisible(t *testing.T, baseURL, apiKey, postID string) {
	t.Helper()

	var resp deliveryListResponse
	status := doJSON(t, http.MethodGet, baseURL+"/v1/posts/"+postID+"/deliveries", apiKey, nil, &resp)
	if status != http.StatusOK {
		t.Fatalf("expected 200 from deliveries, got %d", status)
	}
	// Delivery entries only exist when social networks are configured.
	for _, d := range resp.Data {
		if d.Network == "" || d.Status == "" {
			t.Fatalf("delivery entry missing fields: %+v", d)
		}
	}
}

func subscribeNewsletter(t *testing.T, baseURL string) {
	t.Helper()

	email := fmt.Sprintf("e2e-%d@example.com", time.Now().UnixNano())
	payload := map[string]any{"email": email}

	var resp map[string]any
	status := doJSON(t, http.MethodPost, baseURL+"/v1/newsletter/subscribe", "", payload, &resp)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202 from subscribe, got %d", status)
	}
	if resp["message"] == nil {
		t.Fatalf("subscribe response missing message")
	}

	// Resubmitting the same address must look identical.
	status = doJSON(t, http.MethodPost, baseURL+"/v1/newsletter/subscribe", "", payload, &resp)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202 from duplicate subscribe, got %d", status)
	}
}

func doJSON(t *testing.T, method, url, apiKey string, body any, out any) int {
	t.Helper()

	var buf io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		buf = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, url, buf)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && resp.ContentLength != 0 {
			t.Fatalf("decode response: %v", err)
		}
	}

	return resp.StatusCode
}

// TestE2ERateLimiting validates that rate limiting returns 429 with proper headers.
func TestE2ERateLimiting(t *testing.T) {
	baseURL := envOrDefault("QUILL_BASE_URL", "http://localhost:8080")
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Fatalf("DATABASE_URL is required for e2e tests")
	}

	// Create a free-tier API key (60 RPM, 10 burst)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, err := repository.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	defer repo.Close()

	generated, err := auth.GenerateAPIKey(auth.EnvLive)
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}

	apiKey := &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        systemUserID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        []string{model.ScopeRead},
		RateLimitTier: model.TierFree,
		Name:          "e2e-ratelimit-test",
		CreatedAt:     time.Now().UTC(),
	}

	if err := repo.CreateAPIKey(ctx, apiKey); err != nil {
		t.Fatalf("create free-tier api key: %v", err)
	}

	testKey := generated.Plaintext

	// Send requests until we hit rate limit
	client := &http.Client{Timeout: 10 * time.Second}
	var rateLimited bool
	var lastResp *http.Response

	// Free tier has burst of 10, try 20 requests rapidly
	for i := 0; i < 20; i++ {
		req, err := http.NewRequest(http.MethodGet, baseURL+"/v1/posts", nil)
		if err != nil {
			t.Fatalf("create request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+testKey)

		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			rateLimited = true
			lastResp = resp
			break
		}
		resp.Body.Close()
	}

	if !rateLimited {
		t.Fatalf("expected 429 rate limit after burst, but never hit rate limit")
	}

	defer lastResp.Body.Close()

	// Verify rate limit headers
	limitHeader := lastResp.Header.Get("X-RateLimit-Limit")
	remainingHeader := lastResp.Header.Get("X-RateLimit-Remaining")
	retryAfterHeader := lastResp.Header.Get("Retry-After")

	if limitHeader == "" {
		t.Error("missing X-RateLimit-Limit header on 429 response")
	}
	if remainingHeader != "0" {
		t.Errorf("expected X-RateLimit-Remaining=0, got %s", remainingHeader)
	}
	if retryAfterHeader == "" {
		t.Error("missing Retry-After header on 429 response")
	}

	// Verify response body
	var errResp map[string]any
	if err := json.NewDecoder(lastResp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode 429 response: %v", err)
	}

	if errResp["error"] == nil {
		t.Error("429 response missing 'error' field")
	}
}

// TestE2ENoSecretsInResponses validates that API keys are not leaked in responses.
func TestE2ENoSecretsInResponses(t *testing.T) {
	baseURL := envOrDefault("QUILL_BASE_URL", "http://localhost:8080")
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Fatalf("DATABASE_URL is required for e2e tests")
	}

	bootstrapKey := bootstrapAdminKey(t, dbURL)

	client := &http.Client{Timeout: 10 * time.Second}

	// Test that error responses don't leak the Authorization header value
	testKey := "qk_live_fake_" + strings.Repeat("x", 32)
	req, err := http.NewRequest(http.MethodGet, baseURL+"/v1/posts", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	bodyStr := string(body)

	// The fake API key should NEVER appear in error responses
	if strings.Contains(bodyStr, testKey) {
		t.Error("SECURITY: Error response leaked Authorization header value")
	}

	// The bootstrap key should never be echoed back
	if strings.Contains(bodyStr, bootstrapKey) {
		t.Error("SECURITY: Response contains the bootstrap API key")
	}

	// Listing keys must only expose prefixes, never the full key
	req2, err := http.NewRequest(http.MethodGet, baseURL+"/v1/api-keys", nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req2.Header.Set("Authorization", "Bearer "+bootstrapKey)

	resp2, err := client.Do(req2)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()

	if strings.Contains(string(body2), bootstrapKey) {
		t.Error("SECURITY: API key listing echoed back the full key")
	}
}
