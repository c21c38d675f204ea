package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"readable/internal/models"
	"readable/internal/redis"
	"readable/internal/telemetry"
)

const DefaultSweepInterval = time.Minute

// Recorder archives session activity. It is never read back to restore a session.
type Recorder interface {
	RecordSession(ctx context.Context, rec models.SessionRecord) error
	RecordAttachment(ctx context.Context, rec models.AttachmentRecord) error
	RecordTurn(ctx context.Context, turn models.ArchivedTurn) error
}

type Options struct {
	MaxUploadBytes int64
	// IdleTTL evicts sessions untouched for this long; 0 keeps them forever.
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Redis         *redis.Client
	Recorder      Recorder
}

// Manager owns every live session of this instance.
type Manager struct {
	reasoner Reasoner
	opts     Options
	cache    *snapshotCache

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(reasoner Reasoner, opts Options) *Manager {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	m := &Manager{
		reasoner: reasoner,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
	if opts.Redis != nil {
		m.cache = newSnapshotCache(opts.Redis, uuid.NewString())
	}
	return m
}

// Start runs the idle sweeper and the invalidation listener until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	if m.cache != nil {
		if err := m.cache.listen(ctx, m.handleInvalidation); err != nil {
			return err
		}
	}
	if m.opts.IdleTTL > 0 {
		go m.sweepLoop(ctx)
	}
	return nil
}

func (m *Manager) Create(ctx context.Context) (*Session, error) {
	s := New(uuid.NewString(), m.reasoner, m.opts.MaxUploadBytes)
	s.setObserver(m)

	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()
	telemetry.ActiveSessions.Set(float64(count))

	if m.opts.Recorder != nil {
		rec := models.SessionRecord{ID: s.ID, CreatedAt: s.CreatedAt, UpdatedAt: s.CreatedAt}
		if err := m.opts.Recorder.RecordSession(ctx, rec); err != nil {
			slog.Warn("archive session failed", "session", s.ID, "error", err)
		}
	}
	m.changed(ctx, s)
	slog.Info("session created", "session", s.ID)
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// View returns the live view, falling back to a snapshot cached by another instance.
func (m *Manager) View(ctx context.Context, id string) (*View, error) {
	if s, err := m.Get(id); err == nil {
		return s.View(), nil
	}
	if view, ok := m.cache.load(ctx, id); ok {
		return view, nil
	}
	return nil, ErrNotFound
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	if !m.remove(id) {
		return ErrNotFound
	}
	m.cache.invalidate(ctx, id)
	m.cache.publish(ctx, id)
	slog.Info("session deleted", "session", id)
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) remove(id string) bool {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()
	if ok {
		telemetry.ActiveSessions.Set(float64(count))
	}
	return ok
}

func (m *Manager) handleInvalidation(msg invalidateMessage) {
	if m.remove(msg.SessionID) {
		slog.Info("session dropped by remote invalidation", "session", msg.SessionID)
	}
}

func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.evictIdle(ctx, now.UTC()); n > 0 {
				slog.Info("evicted idle sessions", "count", n)
			}
		}
	}
}

// evictIdle drops sessions idle longer than IdleTTL. Sessions with a call in flight are kept.
func (m *Manager) evictIdle(ctx context.Context, now time.Time) int {
	if m.opts.IdleTTL <= 0 {
		return 0
	}
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	var expired []string
	for _, s := range live {
		if idle, ok := s.idleSince(now); ok && idle >= m.opts.IdleTTL {
			expired = append(expired, s.ID)
		}
	}

	evicted := 0
	for _, id := range expired {
		if m.remove(id) {
			m.cache.invalidate(ctx, id)
			evicted++
		}
	}
	return evicted
}

func (m *Manager) attached(ctx context.Context, s *Session, att *models.Attachment) {
	if m.opts.Recorder == nil || att == nil {
		return
	}
	rec := models.AttachmentRecord{
		SessionID:  s.ID,
		FileName:   att.Name,
		MediaType:  att.MediaType,
		Size:       att.Size,
		IsBinary:   att.IsBinary,
		AttachedAt: time.Now().UTC(),
	}
	if err := m.opts.Recorder.RecordAttachment(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("archive attachment failed", "session", s.ID, "error", err)
	}
}

func (m *Manager) committed(ctx context.Context, s *Session, turn models.Turn, seq int) {
	if m.opts.Recorder == nil {
		return
	}
	rec := models.ArchivedTurn{
		SessionID: s.ID,
		Seq:       seq,
		Role:      turn.Role,
		Content:   turn.Content,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.opts.Recorder.RecordTurn(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("archive turn failed", "session", s.ID, "seq", seq, "error", err)
	}
}

func (m *Manager) changed(ctx context.Context, s *Session) {
	if m.cache == nil {
		return
	}
	m.cache.store(context.WithoutCancel(ctx), s.View())
}
