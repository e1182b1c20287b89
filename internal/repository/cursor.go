package repository

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// ErrInvalidCursor is returned when a pagination cursor fails to decode.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

// PaginationCursor is the decoded keyset cursor used by all list queries.
// Keyset (created_at, id) paging stays stable under concurrent inserts,
// unlike offset paging.
type PaginationCursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// EncodeCursor encodes a pagination cursor to URL-safe base64.
func EncodeCursor(cursor *PaginationCursor) string {
	data, _ := json.Marshal(cursor)
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor decodes a URL-safe base64 pagination cursor.
func DecodeCursor(s string) (*PaginationCursor, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	var cursor PaginationCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, ErrInvalidCursor
	}

	return &cursor, nil
}
