package models

import "time"

// Role identifies the author of a turn. Only the two dialogue participants are stored.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn captures one message of the dialogue.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ArchivedTurn is a turn as written to the archive.
type ArchivedTurn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
