package conversation

import (
	"sync"

	"readable/internal/models"
)

// Log is the ordered dialogue of a session. Committed turns are never edited.
type Log struct {
	mu    sync.RWMutex
	turns []models.Turn
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(turn models.Turn) {
	l.mu.Lock()
	l.turns = append(l.turns, turn)
	l.mu.Unlock()
}

// Snapshot returns a copy of the turns in insertion order.
func (l *Log) Snapshot() []models.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Reset replaces the whole log, optionally seeding it.
func (l *Log) Reset(seed ...models.Turn) {
	l.mu.Lock()
	l.turns = append([]models.Turn(nil), seed...)
	l.mu.Unlock()
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Window returns the trailing n turns; n <= 0 keeps everything.
func Window(turns []models.Turn, n int) []models.Turn {
	if n <= 0 || len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}
