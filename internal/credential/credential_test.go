package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"readable/internal/config"
)

func TestEnvSourceReadsEachCall(t *testing.T) {
	t.Setenv("READABLE_TEST_KEY", "first")
	src := EnvSource{Name: "READABLE_TEST_KEY"}
	key, err := src.APIKey(context.Background())
	if err != nil || key != "first" {
		t.Fatalf("unexpected key %q err %v", key, err)
	}
	t.Setenv("READABLE_TEST_KEY", "second")
	key, _ = src.APIKey(context.Background())
	if key != "second" {
		t.Fatalf("rotated key not picked up, got %q", key)
	}
	t.Setenv("READABLE_TEST_KEY", "  ")
	if _, err := src.APIKey(context.Background()); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestFileSourceRefreshesOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte("alpha\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	src := NewFileSource(path)
	key, err := src.APIKey(context.Background())
	if err != nil || key != "alpha" {
		t.Fatalf("unexpected key %q err %v", key, err)
	}

	if err := os.WriteFile(path, []byte("beta"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	key, err = src.APIKey(context.Background())
	if err != nil || key != "beta" {
		t.Fatalf("expected refreshed key, got %q err %v", key, err)
	}

	missing := NewFileSource(filepath.Join(t.TempDir(), "nope"))
	if _, err := missing.APIKey(context.Background()); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestSealRoundTrip(t *testing.T) {
	t.Setenv(SecretKeyEnv, "0123456789abcdef0123456789abcdef")
	sealed, err := Seal("sk-secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed == "sk-secret" {
		t.Fatalf("seal returned plaintext")
	}
	key, err := SealedSource{Ciphertext: sealed}.APIKey(context.Background())
	if err != nil || key != "sk-secret" {
		t.Fatalf("unseal mismatch: %q err %v", key, err)
	}
	if _, err := (SealedSource{Ciphertext: "not-base64!"}).APIKey(context.Background()); !errors.Is(err, errInvalidCiphertext) {
		t.Fatalf("expected invalid ciphertext, got %v", err)
	}
}

func TestChainFallsThroughMissing(t *testing.T) {
	t.Setenv("READABLE_CHAIN_KEY", "from-env")
	src := FromConfig(config.ReasoningConfig{
		APIKeyFile: filepath.Join(t.TempDir(), "absent"),
		APIKeyEnv:  "READABLE_CHAIN_KEY",
	})
	key, err := src.APIKey(context.Background())
	if err != nil || key != "from-env" {
		t.Fatalf("unexpected key %q err %v", key, err)
	}

	empty := Chain{EnvSource{Name: "READABLE_UNSET_KEY"}}
	if _, err := empty.APIKey(context.Background()); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestChainSkipsUnusableSealedKey(t *testing.T) {
	t.Setenv(SecretKeyEnv, "")
	t.Setenv("READABLE_CHAIN_KEY", "fallback-key")
	src := FromConfig(config.ReasoningConfig{SealedAPIKey: "abc", APIKeyEnv: "READABLE_CHAIN_KEY"})
	key, err := src.APIKey(context.Background())
	if err != nil || key != "fallback-key" {
		t.Fatalf("unexpected key %q err %v", key, err)
	}

	t.Setenv("READABLE_CHAIN_KEY", "")
	_, err = src.APIKey(context.Background())
	if !errors.Is(err, ErrUnusable) || errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrUnusable, got %v", err)
	}
}

func TestSealedSourceWrongKeyIsUnusable(t *testing.T) {
	t.Setenv(SecretKeyEnv, "0123456789abcdef0123456789abcdef")
	sealed, err := Seal("sk-secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	t.Setenv(SecretKeyEnv, "fedcba9876543210fedcba9876543210")
	if _, err := (SealedSource{Ciphertext: sealed}).APIKey(context.Background()); !errors.Is(err, ErrUnusable) {
		t.Fatalf("expected ErrUnusable, got %v", err)
	}
}
