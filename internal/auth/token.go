// Package auth provides authentication utilities for API keys and
// passwordless magic links.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidToken indicates a token failed format or signature checks.
	ErrInvalidToken = errors.New("invalid token")
)

// GenerateToken creates a 32-byte random token, hex encoded (64 chars).
// Used for magic-link, confirm, and session tokens. Only the SHA256 of
// the token is ever stored; the plaintext goes to the user once.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// TokenDigest returns the full SHA256 hex digest of a token.
// This is the storage and lookup form of one-time tokens.
func TokenDigest(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// SignUnsubscribeToken builds a self-contained unsubscribe token for a
// subscriber: base64url("{subscriberID}.{hmac-sha256 hex}"). The token is
// embedded in every issue so unsubscribing needs no session.
func SignUnsubscribeToken(secret, subscriberID string) string {
	sig := unsubscribeMAC(secret, subscriberID)
	payload := subscriberID + "." + sig
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

// VerifyUnsubscribeToken validates a token and returns the subscriber ID.
func VerifyUnsubscribeToken(secret, token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrInvalidToken
	}

	parts := strings.SplitN(string(raw), ".", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", ErrInvalidToken
	}

	expected := unsubscribeMAC(secret, parts[0])
	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		return "", ErrInvalidToken
	}

	return parts[0], nil
}

func unsubscribeMAC(secret, subscriberID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("unsubscribe:" + subscriberID))
	return hex.EncodeToString(mac.Sum(nil))
}
