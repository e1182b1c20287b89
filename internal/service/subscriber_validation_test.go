package service

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"simple", "reader@example.com", "reader@example.com", nil},
		{"uppercased", "Reader@Example.COM", "reader@example.com", nil},
		{"surrounding whitespace", "  reader@example.com  ", "reader@example.com", nil},
		{"plus address", "reader+news@example.com", "reader+news@example.com", nil},
		{"empty", "", "", ErrInvalidEmail},
		{"no at sign", "reader.example.com", "", ErrInvalidEmail},
		{"no domain", "reader@", "", ErrInvalidEmail},
		{"display name form", "Reader <reader@example.com>", "", ErrInvalidEmail},
		{"spaces inside", "rea der@example.com", "", ErrInvalidEmail},
		{"too long", strings.Repeat("a", 250) + "@example.com", "", ErrInvalidEmail},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := NormalizeEmail(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("NormalizeEmail(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
