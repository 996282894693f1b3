// Package transcript records worker session messages and condenses them for
// retry prompts.
package transcript

import (
	"context"
	"sync"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one transcript entry.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Log stores transcripts keyed by session.
type Log interface {
	Append(ctx context.Context, sessionKey string, msg Message) error
	Messages(ctx context.Context, sessionKey string) ([]Message, error)
}

// MemoryLog is an in-process Log.
type MemoryLog struct {
	mu       sync.RWMutex
	sessions map[string][]Message
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{sessions: make(map[string][]Message)}
}

func (l *MemoryLog) Append(_ context.Context, sessionKey string, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[sessionKey] = append(l.sessions[sessionKey], msg)
	return nil
}

func (l *MemoryLog) Messages(_ context.Context, sessionKey string) ([]Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Message(nil), l.sessions[sessionKey]...), nil
}

// Delete drops a session's transcript.
func (l *MemoryLog) Delete(_ context.Context, sessionKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionKey)
	return nil
}
