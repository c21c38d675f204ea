package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"readable/internal/models"
)

var ErrNotFound = errors.New("archived session not found")

// Recorder persists session activity for later inspection. Sessions are never
// restored from it.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

func (r *Recorder) RecordSession(ctx context.Context, rec models.SessionRecord) error {
	if rec.ID == "" {
		return errors.New("session id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)`,
		rec.ID, rec.CreatedAt, rec.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// RecordAttachment stores attachment metadata only; payloads are never written.
func (r *Recorder) RecordAttachment(ctx context.Context, rec models.AttachmentRecord) error {
	if rec.AttachedAt.IsZero() {
		rec.AttachedAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO attachments (session_id, file_name, media_type, size, is_binary, attached_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.FileName, rec.MediaType, rec.Size, rec.IsBinary, rec.AttachedAt,
	); err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return r.touch(ctx, rec.SessionID, rec.AttachedAt)
}

// RecordTurn stores one committed turn and updates the session's updated_at timestamp.
func (r *Recorder) RecordTurn(ctx context.Context, turn models.ArchivedTurn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn.SessionID, turn.Seq, string(turn.Role), turn.Content, turn.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return r.touch(ctx, turn.SessionID, turn.CreatedAt)
}

func (r *Recorder) touch(ctx context.Context, sessionID string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, at, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (r *Recorder) GetSession(ctx context.Context, id string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	err := r.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &rec, nil
}

// ListTurns returns a session's archived turns in commit order.
func (r *Recorder) ListTurns(ctx context.Context, sessionID string) ([]models.ArchivedTurn, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, seq, role, content, created_at FROM turns WHERE session_id = ? ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := make([]models.ArchivedTurn, 0)
	for rows.Next() {
		var (
			t    models.ArchivedTurn
			role string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = models.Role(role)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (r *Recorder) ListAttachments(ctx context.Context, sessionID string) ([]models.AttachmentRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, file_name, media_type, size, is_binary, attached_at FROM attachments WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	records := make([]models.AttachmentRecord, 0)
	for rows.Next() {
		var a models.AttachmentRecord
		if err := rows.Scan(&a.ID, &a.SessionID, &a.FileName, &a.MediaType, &a.Size, &a.IsBinary, &a.AttachedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
