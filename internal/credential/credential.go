package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"readable/internal/config"
)

var (
	// ErrMissing is returned when no source yields an API key.
	ErrMissing = errors.New("reasoning service credential not configured")
	// ErrUnusable marks a configured credential that cannot be read or unsealed.
	ErrUnusable = errors.New("reasoning service credential unusable")
)

// Source resolves the API key used to reach the reasoning service.
// Implementations are consulted on every call so rotated secrets are picked up.
type Source interface {
	APIKey(ctx context.Context) (string, error)
}

// EnvSource reads the key from an environment variable on each call.
type EnvSource struct {
	Name string
}

func (s EnvSource) APIKey(context.Context) (string, error) {
	if s.Name == "" {
		return "", ErrMissing
	}
	key := strings.TrimSpace(os.Getenv(s.Name))
	if key == "" {
		return "", ErrMissing
	}
	return key, nil
}

// FileSource reads the key from a file, re-reading only when its modification time changes.
type FileSource struct {
	Path string

	mu      sync.Mutex
	modTime time.Time
	cached  string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) APIKey(context.Context) (string, error) {
	if s.Path == "" {
		return "", ErrMissing
	}
	info, err := os.Stat(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrMissing
		}
		return "", fmt.Errorf("stat credential file: %w: %w", ErrUnusable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != "" && info.ModTime().Equal(s.modTime) {
		return s.cached, nil
	}
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("read credential file: %w: %w", ErrUnusable, err)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return "", ErrMissing
	}
	s.cached = key
	s.modTime = info.ModTime()
	return key, nil
}

// Chain tries each source in order and returns the first key found.
// Missing and unusable sources are skipped; when nothing resolves, the first
// unusable error is returned so a broken configuration is not reported as absent.
type Chain []Source

func (c Chain) APIKey(ctx context.Context) (string, error) {
	var unusable error
	for _, src := range c {
		if src == nil {
			continue
		}
		key, err := src.APIKey(ctx)
		switch {
		case err == nil:
			return key, nil
		case errors.Is(err, ErrMissing):
			// next source
		case errors.Is(err, ErrUnusable):
			slog.Warn("skipping unusable credential source", "source", fmt.Sprintf("%T", src), "error", err)
			if unusable == nil {
				unusable = err
			}
		default:
			return "", err
		}
	}
	if unusable != nil {
		return "", unusable
	}
	return "", ErrMissing
}

// FromConfig builds the lookup chain: sealed value, then key file, then environment variable.
func FromConfig(cfg config.ReasoningConfig) Source {
	var chain Chain
	if cfg.SealedAPIKey != "" {
		chain = append(chain, SealedSource{Ciphertext: cfg.SealedAPIKey})
	}
	if cfg.APIKeyFile != "" {
		chain = append(chain, NewFileSource(cfg.APIKeyFile))
	}
	chain = append(chain, EnvSource{Name: cfg.APIKeyEnv})
	return chain
}
