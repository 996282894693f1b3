package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-missions/internal/transcript"
)

// TranscriptLog stores worker session messages in sessions_messages.
type TranscriptLog struct {
	s *Store
}

// Transcripts returns a transcript.Log backed by the store.
func (s *Store) Transcripts() *TranscriptLog {
	return &TranscriptLog{s: s}
}

// Append stores a message for sessionKey.
func (t *TranscriptLog) Append(ctx context.Context, sessionKey string, msg transcript.Message) error {
	_, err := t.s.db.Exec(ctx, `
		INSERT INTO sessions_messages (id, session_key, role, content, tool_name)
		VALUES (gen_random_uuid(), $1, $2, $3, NULLIF($4, ''))`,
		sessionKey, msg.Role, msg.Content, msg.ToolName,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Messages returns a session's messages ordered by creation time.
func (t *TranscriptLog) Messages(ctx context.Context, sessionKey string) ([]transcript.Message, error) {
	rows, err := t.s.db.Query(ctx, `
		SELECT role, content, COALESCE(tool_name, ''), created_at
		FROM sessions_messages
		WHERE session_key = $1
		ORDER BY created_at ASC, seq ASC`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []transcript.Message
	for rows.Next() {
		var msg transcript.Message
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.ToolName, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
