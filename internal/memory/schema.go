package memory

import (
	"time"
)

// DefaultImportance is assigned to mission notes that carry no score.
const DefaultImportance = 0.5

// Note is one memory an agent keeps about a finished subtask.
type Note struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	MissionID  string    `json:"mission_id"`
	SubtaskID  string    `json:"subtask_id"`
	Label      string    `json:"label,omitempty"`
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
}
