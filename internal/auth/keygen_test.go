package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey_Format(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     string
		wantEnv string
	}{
		{"live", EnvLive, "live"},
		{"test", EnvTest, "test"},
		{"unknown defaults to live", "staging", "live"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			key, err := GenerateAPIKey(tt.env)
			if err != nil {
				t.Fatalf("GenerateAPIKey: %v", err)
			}

			if !ValidateKeyFormat(key.Plaintext) {
				t.Errorf("generated key %q fails format validation", key.Plaintext)
			}

			parsed, err := ParseAPIKey(key.Plaintext)
			if err != nil {
				t.Fatalf("ParseAPIKey: %v", err)
			}
			if parsed.Env != tt.wantEnv {
				t.Errorf("env = %q, want %q", parsed.Env, tt.wantEnv)
			}
			if parsed.Prefix != key.Prefix {
				t.Errorf("parsed prefix %q != generated prefix %q", parsed.Prefix, key.Prefix)
			}
			if len(parsed.Secret) != KeySecretLen {
				t.Errorf("secret length = %d, want %d", len(parsed.Secret), KeySecretLen)
			}
			if !strings.HasPrefix(key.Hash, "$argon2id$") {
				t.Errorf("hash is not PHC argon2id format: %q", key.Hash)
			}
		})
	}
}

func TestGenerateAPIKey_Unique(t *testing.T) {
	t.Parallel()

	a, err := GenerateAPIKey(EnvLive)
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateAPIKey(EnvLive)
	if err != nil {
		t.Fatal(err)
	}

	if a.Plaintext == b.Plaintext {
		t.Error("two generated keys are identical")
	}
}

func TestParseAPIKey_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"wrong product prefix", "pk_live_abc123_" + strings.Repeat("a", 32)},
		{"wrong env", "qk_prod_abc123_" + strings.Repeat("a", 32)},
		{"short secret", "qk_live_abc123_abcdef"},
		{"uppercase hex", "qk_live_ABC123_" + strings.Repeat("A", 32)},
		{"missing parts", "qk_live_abc123"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := ParseAPIKey(tt.key); err == nil {
				t.Errorf("ParseAPIKey(%q) should fail", tt.key)
			}
		})
	}
}

func TestVerifySecret_RoundTrip(t *testing.T) {
	t.Parallel()

	key, err := GenerateAPIKey(EnvTest)
	if err != nil {
		t.Fatal(err)
	}

	match, err := VerifySecret(key.Plaintext, key.Hash)
	if err != nil {
		t.Fatalf("VerifySecret: %v", err)
	}
	if !match {
		t.Error("correct key should verify against its own hash")
	}

	match, err = VerifySecret(key.Plaintext+"x", key.Hash)
	if err != nil {
		t.Fatalf("VerifySecret: %v", err)
	}
	if match {
		t.Error("wrong key should not verify")
	}
}

func TestVerifySecret_MalformedHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"not PHC", "plainhash"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=3,p=4$!!!$aGFzaA"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := VerifySecret("secret", tt.hash); err == nil {
				t.Errorf("VerifySecret with hash %q should fail", tt.hash)
			}
		})
	}
}
