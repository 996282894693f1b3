package mission

import "time"

// Status is the lifecycle state of a mission.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Done reports whether the mission reached a terminal status.
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// SubtaskStatus tracks a single DAG node.
type SubtaskStatus string

const (
	SubtaskPending SubtaskStatus = "pending"
	SubtaskRunning SubtaskStatus = "running"
	SubtaskOK      SubtaskStatus = "ok"
	SubtaskError   SubtaskStatus = "error"
	SubtaskSkipped SubtaskStatus = "skipped"
)

// Terminal reports whether the subtask will not change state again.
func (s SubtaskStatus) Terminal() bool {
	return s == SubtaskOK || s == SubtaskError || s == SubtaskSkipped
}

// Failed reports whether the status blocks dependents.
func (s SubtaskStatus) Failed() bool {
	return s == SubtaskError || s == SubtaskSkipped
}

// OutcomeStatus is the closed set of run results reported by the substrate.
type OutcomeStatus string

const (
	OutcomeOK    OutcomeStatus = "ok"
	OutcomeError OutcomeStatus = "error"
)

// Outcome is the result of one worker run.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// Succeeded builds a successful outcome.
func Succeeded() Outcome { return Outcome{Status: OutcomeOK} }

// Failure builds an error outcome with the given reason.
func Failure(reason string) Outcome { return Outcome{Status: OutcomeError, Error: reason} }

// IsOK reports whether the run succeeded.
func (o Outcome) IsOK() bool { return o.Status == OutcomeOK }

// Requester identifies who receives the final announcement. The orchestrator
// never interprets these fields; the announcer does.
type Requester struct {
	SessionKey      string            `json:"session_key"`
	DisplayKey      string            `json:"display_key,omitempty"`
	DeliveryContext map[string]string `json:"delivery_context,omitempty"`
}

// Mission is one decomposed request.
type Mission struct {
	ID             string              `json:"id"`
	Label          string              `json:"label"`
	Requester      Requester           `json:"requester"`
	Subtasks       map[string]*Subtask `json:"subtasks"`
	ExecutionOrder []string            `json:"execution_order"`
	Status         Status              `json:"status"`
	TotalSpawns    int                 `json:"total_spawns"`
	MaxTotalSpawns int                 `json:"max_total_spawns"`
	Announced      bool                `json:"announced"`
	Cleanup        string              `json:"cleanup,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
}

// Subtask is one node of a mission's DAG.
type Subtask struct {
	ID              string        `json:"id"`
	AgentID         string        `json:"agent_id"`
	OriginalTask    string        `json:"original_task"`
	EffectiveTask   string        `json:"effective_task,omitempty"`
	After           []string      `json:"after,omitempty"`
	Status          SubtaskStatus `json:"status"`
	RunID           string        `json:"run_id,omitempty"`
	ChildSessionKey string        `json:"child_session_key,omitempty"`
	Result          string        `json:"result,omitempty"`
	Outcome         *Outcome      `json:"outcome,omitempty"`
	RetryCount      int           `json:"retry_count"`
	MaxRetries      int           `json:"max_retries"`
	LoopCount       int           `json:"loop_count"`
	// MaxLoops: nil disables looping, 0 loops until the done sentinel or
	// the mission spawn budget, >0 is a hard cap.
	MaxLoops    *int       `json:"max_loops,omitempty"`
	LoopHistory []string   `json:"loop_history,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// ErrorText returns the recorded failure reason, if any.
func (st *Subtask) ErrorText() string {
	if st.Outcome == nil {
		return ""
	}
	return st.Outcome.Error
}

// SubtaskDef is the caller-supplied definition of a subtask.
type SubtaskDef struct {
	ID         string   `json:"id"`
	AgentID    string   `json:"agent_id"`
	Task       string   `json:"task"`
	After      []string `json:"after,omitempty"`
	MaxRetries *int     `json:"max_retries,omitempty"`
	MaxLoops   *int     `json:"max_loops,omitempty"`
}

// CreateOptions tunes a single mission.
type CreateOptions struct {
	// Cleanup is forwarded to the execution substrate ("keep" or "delete").
	Cleanup string `json:"cleanup,omitempty"`
	// MaxTotalSpawns overrides the computed spawn budget when positive.
	MaxTotalSpawns int `json:"max_total_spawns,omitempty"`
}

// Clone returns a deep copy safe to hand outside the orchestrator lock.
func (m *Mission) Clone() *Mission {
	if m == nil {
		return nil
	}
	out := *m
	out.ExecutionOrder = append([]string(nil), m.ExecutionOrder...)
	out.Requester.DeliveryContext = copyStringMap(m.Requester.DeliveryContext)
	out.CompletedAt = copyTime(m.CompletedAt)
	out.Subtasks = make(map[string]*Subtask, len(m.Subtasks))
	for id, st := range m.Subtasks {
		out.Subtasks[id] = st.Clone()
	}
	return &out
}

// Clone returns a deep copy of the subtask.
func (st *Subtask) Clone() *Subtask {
	if st == nil {
		return nil
	}
	out := *st
	out.After = append([]string(nil), st.After...)
	out.LoopHistory = append([]string(nil), st.LoopHistory...)
	out.StartedAt = copyTime(st.StartedAt)
	out.EndedAt = copyTime(st.EndedAt)
	if st.Outcome != nil {
		o := *st.Outcome
		out.Outcome = &o
	}
	if st.MaxLoops != nil {
		n := *st.MaxLoops
		out.MaxLoops = &n
	}
	return &out
}

// Ordered returns subtasks in execution order.
func (m *Mission) Ordered() []*Subtask {
	out := make([]*Subtask, 0, len(m.ExecutionOrder))
	for _, id := range m.ExecutionOrder {
		if st, ok := m.Subtasks[id]; ok {
			out = append(out, st)
		}
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func intPtr(n int) *int { return &n }
