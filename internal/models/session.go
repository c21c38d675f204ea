package models

import "time"

// SessionRecord is the archived header of a session.
type SessionRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AttachmentRecord is archived attachment metadata. Payloads are never archived.
type AttachmentRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	FileName   string    `json:"file_name"`
	MediaType  string    `json:"media_type"`
	Size       int64     `json:"size"`
	IsBinary   bool      `json:"is_binary"`
	AttachedAt time.Time `json:"attached_at"`
}
