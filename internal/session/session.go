package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"readable/internal/attachment"
	"readable/internal/conversation"
	"readable/internal/logger"
	"readable/internal/models"
	"readable/internal/render"
	"readable/internal/service/reasoning"
)

var (
	ErrEmptyPrompt  = errors.New("prompt is empty")
	ErrPending      = errors.New("a request is already in progress")
	ErrNoAttachment = errors.New("attach a file before asking a question")
	// ErrStale is returned when the attachment changed while a call was in flight.
	ErrStale    = errors.New("attachment changed during request")
	ErrNotFound = errors.New("session not found")
)

const (
	UnsupportedFormatMessage = "Unsupported file format. Please try a PDF, Image, or Text-based file."
	TooLargeMessage          = "The file is too large to attach."
	UnreadableMessage        = "The file could not be read as text."
)

// Reasoner answers one prompt against the prior dialogue and the current attachment.
type Reasoner interface {
	Complete(ctx context.Context, prompt string, history []models.Turn, att *models.Attachment) (string, error)
}

// observer is notified after state changes, outside the session lock.
type observer interface {
	attached(ctx context.Context, s *Session, att *models.Attachment)
	committed(ctx context.Context, s *Session, turn models.Turn, seq int)
	changed(ctx context.Context, s *Session)
}

// Session is the state of one document conversation: at most one attachment,
// the ordered dialogue, the pending gate and the last user-facing error.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	store     *attachment.Store
	log       *conversation.Log
	reasoner  Reasoner
	pending   bool
	lastError string
	lastUsed  time.Time
	seq       int
	obs       observer
}

func New(id string, reasoner Reasoner, maxUploadBytes int64) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		CreatedAt: now,
		store:     attachment.NewStore(maxUploadBytes),
		log:       conversation.NewLog(),
		reasoner:  reasoner,
		lastUsed:  now,
	}
}

// OnAttach decodes f and, on success, replaces the attachment and restarts the
// dialogue with a single acknowledgment turn. On failure only lastError changes.
func (s *Session) OnAttach(ctx context.Context, f attachment.File) (*models.Attachment, error) {
	// decoding can be slow for large files and must not block readers of the session
	att, err := s.store.Decode(ctx, f)

	s.mu.Lock()
	s.lastUsed = time.Now().UTC()
	if err != nil {
		s.lastError = attachErrorMessage(err)
		s.mu.Unlock()
		s.notifyChanged(ctx)
		return nil, err
	}
	s.lastError = ""
	s.store.Replace(att)
	ack := models.Turn{Role: models.RoleModel, Content: acknowledgment(att)}
	s.log.Reset(ack)
	s.seq++
	seq := s.seq
	obs := s.obs
	s.mu.Unlock()

	slog.Info("attachment accepted", "session", s.ID, "name", att.Name, "media_type", att.MediaType, "binary", att.IsBinary, "size", att.Size)
	if obs != nil {
		obs.attached(ctx, s, att)
		obs.committed(ctx, s, ack, seq)
		obs.changed(ctx, s)
	}
	return att, nil
}

// OnSubmit appends the user turn, asks the reasoner and appends the answer.
// accepted, when non-nil, is called once the user turn is in the log and before
// the reasoning call starts. Rejections leave the session untouched.
func (s *Session) OnSubmit(ctx context.Context, prompt string, accepted func(models.Turn)) (*models.Turn, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	s.mu.Lock()
	if s.pending {
		s.mu.Unlock()
		return nil, ErrPending
	}
	att := s.store.Current()
	if att == nil {
		s.mu.Unlock()
		return nil, ErrNoAttachment
	}
	s.lastError = ""
	s.lastUsed = time.Now().UTC()
	history := s.log.Snapshot()
	userTurn := models.Turn{Role: models.RoleUser, Content: prompt}
	s.log.Append(userTurn)
	s.seq++
	userSeq := s.seq
	s.pending = true
	version := s.store.Version()
	obs := s.obs
	s.mu.Unlock()

	if obs != nil {
		obs.committed(ctx, s, userTurn, userSeq)
		obs.changed(ctx, s)
	}
	if accepted != nil {
		accepted(userTurn)
	}

	// An in-flight call always runs to completion; only the client timeout bounds it.
	answer, err := s.reasoner.Complete(context.WithoutCancel(ctx), prompt, history, att)

	s.mu.Lock()
	s.pending = false
	s.lastUsed = time.Now().UTC()
	if s.store.Version() != version {
		s.mu.Unlock()
		slog.Info("discarding stale reasoning result", "session", s.ID, "issued_version", version)
		s.notifyChanged(ctx)
		return nil, ErrStale
	}
	if err != nil {
		s.lastError = reasoningErrorMessage(err)
		s.mu.Unlock()
		s.notifyChanged(ctx)
		return nil, err
	}
	modelTurn := models.Turn{Role: models.RoleModel, Content: answer}
	s.log.Append(modelTurn)
	s.seq++
	modelSeq := s.seq
	s.mu.Unlock()

	logger.Debugf("session %s answered turn %d", s.ID, modelSeq)
	if obs != nil {
		obs.committed(ctx, s, modelTurn, modelSeq)
		obs.changed(ctx, s)
	}
	return &modelTurn, nil
}

// ClearAttachment drops the file but keeps the dialogue.
func (s *Session) ClearAttachment(ctx context.Context) {
	s.mu.Lock()
	s.store.Clear()
	s.lastError = ""
	s.lastUsed = time.Now().UTC()
	obs := s.obs
	s.mu.Unlock()

	if obs != nil {
		obs.attached(ctx, s, nil)
		obs.changed(ctx, s)
	}
}

// Turns returns a copy of the dialogue.
func (s *Session) Turns() []models.Turn {
	return s.log.Snapshot()
}

func (s *Session) Attachment() *models.Attachment {
	return s.store.Current()
}

func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// View is the read-only representation served to clients.
type View struct {
	ID         string             `json:"id"`
	CreatedAt  time.Time          `json:"created_at"`
	Attachment *models.Attachment `json:"attachment,omitempty"`
	Turns      []TurnView         `json:"turns"`
	Pending    bool               `json:"pending"`
	LastError  string             `json:"last_error,omitempty"`
}

type TurnView struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
	HTML    string      `json:"html,omitempty"`
}

func (s *Session) View() *View {
	s.mu.Lock()
	turns := s.log.Snapshot()
	view := &View{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		Attachment: s.store.Current(),
		Pending:    s.pending,
		LastError:  s.lastError,
	}
	s.mu.Unlock()

	view.Turns = make([]TurnView, 0, len(turns))
	for _, turn := range turns {
		view.Turns = append(view.Turns, NewTurnView(turn))
	}
	return view
}

// NewTurnView renders model turns to sanitized HTML; user turns stay plain text.
func NewTurnView(turn models.Turn) TurnView {
	tv := TurnView{Role: turn.Role, Content: turn.Content}
	if turn.Role == models.RoleModel {
		tv.HTML = render.Markdown(turn.Content)
	}
	return tv
}

func (s *Session) idleSince(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return 0, false
	}
	return now.Sub(s.lastUsed), true
}

func (s *Session) setObserver(obs observer) {
	s.mu.Lock()
	s.obs = obs
	s.mu.Unlock()
}

func (s *Session) notifyChanged(ctx context.Context) {
	s.mu.Lock()
	obs := s.obs
	s.mu.Unlock()
	if obs != nil {
		obs.changed(ctx, s)
	}
}

func acknowledgment(att *models.Attachment) string {
	if att.IsBinary {
		return fmt.Sprintf("I've received **%s**. I'm ready to perform deep analysis. What specific information or insights do you need from this document?", att.Name)
	}
	return fmt.Sprintf("I have indexed **%s**. Ask me anything about its contents, and I'll provide a direct answer.", att.Name)
}

func attachErrorMessage(err error) string {
	switch {
	case errors.Is(err, attachment.ErrUnsupportedFormat):
		return UnsupportedFormatMessage
	case errors.Is(err, attachment.ErrTooLarge):
		return TooLargeMessage
	case errors.Is(err, attachment.ErrInvalidText):
		return UnreadableMessage
	default:
		return err.Error()
	}
}

func reasoningErrorMessage(err error) string {
	var rerr *reasoning.Error
	if errors.As(err, &rerr) && rerr.Message != "" {
		return rerr.Message
	}
	return reasoning.UpstreamFallbackMessage
}
