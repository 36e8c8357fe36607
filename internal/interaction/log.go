package interaction

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced an entry
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one immutable record of the conversation
type Entry struct {
	ID         string         `json:"id"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Attributes map[string]any `json:"attributes,omitempty"` // scalars only; nil means nothing extra to show
	CreatedAt  time.Time      `json:"created_at"`
}

// Log is an append-only, insertion-ordered sequence of entries
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
	newID   func() string
}

// NewLog creates an empty log
func NewLog() *Log {
	return &Log{
		now:   time.Now,
		newID: newEntryID,
	}
}

// newEntryID prefers UUIDv7 so IDs sort by creation time
func newEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Append stores a new entry and returns a copy of it
func (l *Log) Append(role Role, content string, attrs map[string]any) (Entry, error) {
	if role != RoleUser && role != RoleAssistant {
		return Entry{}, fmt.Errorf("unknown role %q", role)
	}

	entry := Entry{
		ID:         l.newID(),
		Role:       role,
		Content:    content,
		Attributes: copyAttributes(attrs),
	}

	l.mu.Lock()
	entry.CreatedAt = l.now()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	return entry.clone(), nil
}

// Entries returns a snapshot of the log in insertion order
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.clone()
	}
	return out
}

// Since returns the entries appended after the first n
func (l *Log) Since(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n < 0 {
		n = 0
	}
	if n >= len(l.entries) {
		return []Entry{}
	}
	out := make([]Entry, 0, len(l.entries)-n)
	for _, e := range l.entries[n:] {
		out = append(out, e.clone())
	}
	return out
}

// Len returns the number of entries
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (e Entry) clone() Entry {
	e.Attributes = copyAttributes(e.Attributes)
	return e
}

func copyAttributes(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
