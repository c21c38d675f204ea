package attachment

import (
	"context"
	"sync"

	"readable/internal/models"
)

// Store holds at most one attachment. A failed Attach leaves the previous one in place.
type Store struct {
	mu       sync.RWMutex
	current  *models.Attachment
	version  uint64
	maxBytes int64
}

func NewStore(maxBytes int64) *Store {
	return &Store{maxBytes: maxBytes}
}

// Decode converts f under the store's size limit without touching the current attachment.
func (s *Store) Decode(ctx context.Context, f File) (*models.Attachment, error) {
	return Decode(ctx, f, s.maxBytes)
}

// Attach decodes f and, on success, replaces the current attachment.
func (s *Store) Attach(ctx context.Context, f File) (*models.Attachment, error) {
	att, err := s.Decode(ctx, f)
	if err != nil {
		return nil, err
	}
	s.Replace(att)
	return att, nil
}

// Replace installs an already decoded attachment.
func (s *Store) Replace(att *models.Attachment) {
	s.mu.Lock()
	s.current = att
	s.version++
	s.mu.Unlock()
}

// Clear drops the current attachment.
func (s *Store) Clear() {
	s.mu.Lock()
	if s.current != nil {
		s.current = nil
		s.version++
	}
	s.mu.Unlock()
}

// Current returns the attachment or nil.
func (s *Store) Current() *models.Attachment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Version changes every time the attachment is replaced or cleared.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
