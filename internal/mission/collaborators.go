package mission

import (
	"context"
	"time"
)

// SpawnRequest is what the orchestrator hands the execution substrate.
type SpawnRequest struct {
	MissionID      string        `json:"mission_id"`
	SubtaskID      string        `json:"subtask_id"`
	AgentID        string        `json:"agent_id"`
	Message        string        `json:"message"`
	SessionKey     string        `json:"session_key"`
	IdempotencyKey string        `json:"idempotency_key"`
	Cleanup        string        `json:"cleanup,omitempty"`
	Timeout        time.Duration `json:"-"`
}

// SpawnResult is the substrate's acknowledgement of a started run.
type SpawnResult struct {
	RunID string `json:"run_id"`
}

// Substrate starts worker runs. Outcomes arrive later through the run
// registry's completion stream.
type Substrate interface {
	SpawnRun(ctx context.Context, req SpawnRequest) (SpawnResult, error)
	LatestReply(ctx context.Context, sessionKey string) (string, error)
}

// RunRecord is a run registry entry.
type RunRecord struct {
	RunID        string     `json:"run_id"`
	SessionKey   string     `json:"session_key"`
	RequesterKey string     `json:"requester_key,omitempty"`
	MissionID    string     `json:"mission_id,omitempty"`
	SubtaskID    string     `json:"subtask_id,omitempty"`
	Label        string     `json:"label,omitempty"`
	Cleanup      string     `json:"cleanup,omitempty"`
	MaxRetries   int        `json:"max_retries"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Outcome      *Outcome   `json:"outcome,omitempty"`
}

// Ended reports whether the registry has seen the run finish.
func (r RunRecord) Ended() bool { return r.EndedAt != nil }

// RunCompletion is delivered once per finished run.
type RunCompletion struct {
	RunID      string    `json:"run_id"`
	SessionKey string    `json:"session_key,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// RunRegistry tracks runs across process restarts.
type RunRegistry interface {
	Register(ctx context.Context, rec RunRecord) error
	Get(ctx context.Context, runID string) (RunRecord, bool, error)
}

// TranscriptSummary condenses a worker session for the retry prompt.
type TranscriptSummary struct {
	ToolCalls         []string `json:"tool_calls,omitempty"`
	ToolErrorCount    int      `json:"tool_error_count"`
	LastAssistantText string   `json:"last_assistant_text,omitempty"`
	TotalMessages     int      `json:"total_messages"`
}

// Summarizer reads a worker session transcript.
type Summarizer interface {
	Summarize(ctx context.Context, sessionKey string) (TranscriptSummary, error)
}

// Knowledge is the cross-run knowledge service.
type Knowledge interface {
	Search(ctx context.Context, query, scope string, limit int) ([]string, error)
	Write(ctx context.Context, content, scope string, metadata map[string]string) error
}

// Persister saves and restores the mission set.
type Persister interface {
	Save(ctx context.Context, missions map[string]*Mission) error
	Load(ctx context.Context) (map[string]*Mission, error)
}

// WorkLogEntry is one analytics row.
type WorkLogEntry struct {
	MissionID string
	SubtaskID string
	AgentID   string
	Kind      string // "spawn" or "orchestration"
	Status    string
	Detail    string
	StartedAt time.Time
	EndedAt   time.Time
}

// Work log kinds.
const (
	WorkKindSpawn         = "spawn"
	WorkKindOrchestration = "orchestration"
)

// WorkLog records durations.
type WorkLog interface {
	Record(ctx context.Context, e WorkLogEntry) error
}

// StatusCounts tallies terminal subtask states for the task board.
type StatusCounts struct {
	OK      int `json:"ok"`
	Error   int `json:"error"`
	Skipped int `json:"skipped"`
}

// Board mirrors mission status onto a task board.
type Board interface {
	UpdateStatus(ctx context.Context, missionID string, status Status, counts StatusCounts) error
}

// DailyNotes appends a human-readable summary to the day's notes.
type DailyNotes interface {
	Append(ctx context.Context, at time.Time, text string) error
}

// Announcer delivers the final result to the requester.
type Announcer interface {
	Announce(ctx context.Context, to Requester, text string) error
}

// MemoryNote is written after every successful subtask run.
type MemoryNote struct {
	AgentID   string
	MissionID string
	SubtaskID string
	Label     string
	Content   string
}

// MemoryNotes stores per-agent memory notes.
type MemoryNotes interface {
	AppendNote(ctx context.Context, n MemoryNote) error
}

// Deps bundles the orchestrator's collaborators. Substrate and Registry are
// required; the rest may be nil.
type Deps struct {
	Substrate  Substrate
	Registry   RunRegistry
	Summarizer Summarizer
	Knowledge  Knowledge
	Persister  Persister
	WorkLog    WorkLog
	Board      Board
	Notes      DailyNotes
	Announcer  Announcer
	Memory     MemoryNotes
}
