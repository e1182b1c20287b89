package dto

import (
	"time"

	"github.com/quillhq/quill/internal/model"
)

// MagicLinkRequest represents the request body for a sign-in link.
type MagicLinkRequest struct {
	Email string `json:"email"`
}

// SessionResponse carries a freshly minted session token.
type SessionResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
}

// CreateAPIKeyRequest represents the request body for minting an API key.
type CreateAPIKeyRequest struct {
	Name   string   `json:"name,omitempty"`
	Scopes []string `json:"scopes"`
	Tier   string   `json:"tier,omitempty"`
}

// APIKeyResponse represents an API key in API responses.
// Key is only set on creation; afterwards only the prefix is visible.
type APIKeyResponse struct {
	ID            string     `json:"id"`
	Key           string     `json:"key,omitempty"`
	KeyPrefix     string     `json:"key_prefix"`
	Name          string     `json:"name,omitempty"`
	Scopes        []string   `json:"scopes"`
	RateLimitTier string     `json:"rate_limit_tier"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// APIKeyListResponse represents the caller's API keys.
type APIKeyListResponse struct {
	Data []APIKeyResponse `json:"data"`
}

// ToAPIKeyResponse converts an APIKey model to its DTO. plaintext is
// empty except immediately after creation.
func ToAPIKeyResponse(key *model.APIKey, plaintext string) *APIKeyResponse {
	return &APIKeyResponse{
		ID:            key.ID,
		Key:           plaintext,
		KeyPrefix:     key.KeyPrefix,
		Name:          key.Name,
		Scopes:        key.Scopes,
		RateLimitTier: key.RateLimitTier,
		RevokedAt:     key.RevokedAt,
		LastUsedAt:    key.LastUsedAt,
		CreatedAt:     key.CreatedAt,
	}
}

// ToAPIKeyListResponse converts API keys to the list DTO.
func ToAPIKeyListResponse(keys []*model.APIKey) *APIKeyListResponse {
	responses := make([]APIKeyResponse, len(keys))
	for i, key := range keys {
		responses[i] = *ToAPIKeyResponse(key, "")
	}
	return &APIKeyListResponse{Data: responses}
}
