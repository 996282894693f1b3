package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nidhogg/nuka-missions/internal/mission"
)

const lastTextMax = 1500

// ErrNoReply is returned when a session has no assistant message yet.
var ErrNoReply = errors.New("no assistant reply in session")

// Summarizer reads transcripts from a Log.
type Summarizer struct {
	log Log
}

// NewSummarizer creates a summarizer over log.
func NewSummarizer(log Log) *Summarizer {
	return &Summarizer{log: log}
}

// Summarize counts tool calls and failures and keeps the last assistant
// message, cut to lastTextMax bytes.
func (s *Summarizer) Summarize(ctx context.Context, sessionKey string) (mission.TranscriptSummary, error) {
	msgs, err := s.log.Messages(ctx, sessionKey)
	if err != nil {
		return mission.TranscriptSummary{}, fmt.Errorf("read transcript %s: %w", sessionKey, err)
	}

	sum := mission.TranscriptSummary{TotalMessages: len(msgs)}
	for _, m := range msgs {
		switch m.Role {
		case RoleTool:
			name := m.ToolName
			if name == "" {
				name = "unknown"
			}
			sum.ToolCalls = append(sum.ToolCalls, name)
			if IsToolError(m.Content) {
				sum.ToolErrorCount++
			}
		case RoleAssistant:
			if text := strings.TrimSpace(m.Content); text != "" {
				sum.LastAssistantText = text
			}
		}
	}
	if len(sum.LastAssistantText) > lastTextMax {
		cut := lastTextMax
		for cut > 0 && !utf8.RuneStart(sum.LastAssistantText[cut]) {
			cut--
		}
		sum.LastAssistantText = sum.LastAssistantText[:cut]
	}
	return sum, nil
}

// LastReply returns the final assistant message of a session.
func (s *Summarizer) LastReply(ctx context.Context, sessionKey string) (string, error) {
	msgs, err := s.log.Messages(ctx, sessionKey)
	if err != nil {
		return "", fmt.Errorf("read transcript %s: %w", sessionKey, err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			return msgs[i].Content, nil
		}
	}
	return "", ErrNoReply
}

// IsToolError reports whether a tool result reads as a failure.
func IsToolError(content string) bool {
	c := strings.TrimSpace(content)
	return strings.HasPrefix(c, `{"error"`) || strings.HasPrefix(strings.ToLower(c), "error:")
}
