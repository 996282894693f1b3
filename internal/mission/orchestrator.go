package mission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrMissionNotFound is returned when a mission id is unknown.
var ErrMissionNotFound = errors.New("mission not found")

// AgentPolicy holds per-agent defaults resolved at mission creation.
type AgentPolicy struct {
	MaxRetries *int
	MaxLoops   *int
	Directive  string
}

// Config tunes the orchestrator.
type Config struct {
	DefaultMaxRetries int
	// MaxTotalSpawns caps the computed per-mission budget when positive.
	MaxTotalSpawns      int
	UnlimitedLoopBudget int
	SpawnTimeout        time.Duration
	KnowledgeTimeout    time.Duration
	RecoveryGrace       time.Duration
	SideEffectWorkers   int
	SideEffectQueue     int
	SideEffectTimeout   time.Duration
	Agents              map[string]AgentPolicy
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DefaultMaxRetries:   2,
		UnlimitedLoopBudget: 100,
		SpawnTimeout:        30 * time.Second,
		KnowledgeTimeout:    5 * time.Second,
		RecoveryGrace:       30 * time.Second,
		SideEffectWorkers:   4,
		SideEffectQueue:     256,
		SideEffectTimeout:   30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = 0
	}
	if c.UnlimitedLoopBudget <= 0 {
		c.UnlimitedLoopBudget = d.UnlimitedLoopBudget
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = d.SpawnTimeout
	}
	if c.KnowledgeTimeout <= 0 {
		c.KnowledgeTimeout = d.KnowledgeTimeout
	}
	if c.RecoveryGrace <= 0 {
		c.RecoveryGrace = d.RecoveryGrace
	}
	if c.SideEffectWorkers <= 0 {
		c.SideEffectWorkers = d.SideEffectWorkers
	}
	if c.SideEffectQueue <= 0 {
		c.SideEffectQueue = d.SideEffectQueue
	}
	if c.SideEffectTimeout <= 0 {
		c.SideEffectTimeout = d.SideEffectTimeout
	}
}

// Orchestrator owns all missions and drives them through their DAGs.
// Every state mutation happens under mu, so handlers for different runs
// never observe a half-updated mission.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	effects *SideEffects

	mu       sync.Mutex
	store    *Store
	bootedAt time.Time

	now   func() time.Time
	newID func() string
}

// New creates an orchestrator. deps.Substrate and deps.Registry must be set.
func New(cfg Config, deps Deps, logger *zap.Logger) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		effects:  NewSideEffects(cfg.SideEffectWorkers, cfg.SideEffectQueue, cfg.SideEffectTimeout, logger),
		store:    NewStore(),
		bootedAt: time.Now(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// CreateMission validates the subtask graph, records the mission and spawns
// its root subtasks. Definition errors are *ValidationError and leave no
// state behind.
func (o *Orchestrator) CreateMission(ctx context.Context, label string, defs []SubtaskDef, requester Requester, opts CreateOptions) (string, error) {
	for _, d := range defs {
		if err := checkDef(d); err != nil {
			return "", err
		}
	}
	order, err := ValidateDAG(defs)
	if err != nil {
		return "", err
	}

	now := o.now()
	m := &Mission{
		ID:             o.newID(),
		Label:          label,
		Requester:      requester,
		Subtasks:       make(map[string]*Subtask, len(defs)),
		ExecutionOrder: order,
		Status:         StatusRunning,
		Cleanup:        opts.Cleanup,
		CreatedAt:      now,
	}
	for _, d := range defs {
		maxRetries, maxLoops := o.resolvePolicy(d)
		m.Subtasks[d.ID] = &Subtask{
			ID:           d.ID,
			AgentID:      d.AgentID,
			OriginalTask: d.Task,
			After:        append([]string(nil), d.After...),
			Status:       SubtaskPending,
			MaxRetries:   maxRetries,
			MaxLoops:     maxLoops,
		}
	}
	m.MaxTotalSpawns = o.spawnBudget(m, opts)

	// Spawns outlive the caller's request.
	ctx = context.WithoutCancel(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.store.Put(m)
	o.logger.Info("mission created",
		zap.String("mission", m.ID),
		zap.String("label", label),
		zap.Int("subtasks", len(defs)),
		zap.Int("max_total_spawns", m.MaxTotalSpawns))
	o.persist(ctx)

	o.advance(ctx, m)
	o.checkCompletion(ctx, m)
	return m.ID, nil
}

func checkDef(d SubtaskDef) error {
	switch {
	case strings.TrimSpace(d.ID) == "":
		return &ValidationError{Kind: ErrKindInvalidSubtask, Missing: "id"}
	case strings.TrimSpace(d.AgentID) == "":
		return &ValidationError{Kind: ErrKindInvalidSubtask, SubtaskID: d.ID, Missing: "agent_id"}
	case strings.TrimSpace(d.Task) == "":
		return &ValidationError{Kind: ErrKindInvalidSubtask, SubtaskID: d.ID, Missing: "task"}
	}
	return nil
}

// resolvePolicy picks retry and loop limits: definition, then agent config,
// then the orchestrator default.
func (o *Orchestrator) resolvePolicy(d SubtaskDef) (int, *int) {
	policy := o.cfg.Agents[d.AgentID]

	maxRetries := o.cfg.DefaultMaxRetries
	switch {
	case d.MaxRetries != nil:
		maxRetries = *d.MaxRetries
	case policy.MaxRetries != nil:
		maxRetries = *policy.MaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	var maxLoops *int
	switch {
	case d.MaxLoops != nil:
		maxLoops = intPtr(*d.MaxLoops)
	case policy.MaxLoops != nil:
		maxLoops = intPtr(*policy.MaxLoops)
	}
	if maxLoops != nil && *maxLoops < 0 {
		maxLoops = nil
	}
	return maxRetries, maxLoops
}

// spawnBudget computes the mission-wide spawn ceiling. Any unbounded loop
// switches to the fixed unlimited-loop budget.
func (o *Orchestrator) spawnBudget(m *Mission, opts CreateOptions) int {
	if opts.MaxTotalSpawns > 0 {
		return opts.MaxTotalSpawns
	}

	budget := 0
	unlimited := false
	for _, st := range m.Subtasks {
		loops := 0
		if st.MaxLoops != nil {
			if *st.MaxLoops == 0 {
				unlimited = true
			}
			loops = *st.MaxLoops
		}
		budget += 1 + st.MaxRetries + loops*(1+st.MaxRetries)
	}
	if unlimited {
		budget = o.cfg.UnlimitedLoopBudget
	}
	if o.cfg.MaxTotalSpawns > 0 && budget > o.cfg.MaxTotalSpawns {
		budget = o.cfg.MaxTotalSpawns
	}
	return budget
}

// GetMission returns a copy of the mission.
func (o *Orchestrator) GetMission(id string) (*Mission, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	m, ok := o.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("get mission %s: %w", id, ErrMissionNotFound)
	}
	return m.Clone(), nil
}

// ListMissions returns copies of every mission, oldest first.
func (o *Orchestrator) ListMissions() []*Mission {
	o.mu.Lock()
	defer o.mu.Unlock()

	all := o.store.All()
	out := make([]*Mission, 0, len(all))
	for _, m := range all {
		out = append(out, m.Clone())
	}
	return out
}

// FindMissionByRunID resolves an in-flight run to its mission and subtask.
func (o *Orchestrator) FindMissionByRunID(runID string) (*Mission, string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ref, ok := o.store.LookupRun(runID)
	if !ok {
		return nil, "", false
	}
	m, ok := o.store.Get(ref.MissionID)
	if !ok {
		return nil, "", false
	}
	return m.Clone(), ref.SubtaskID, true
}

// FindSubtaskBySessionKey resolves a worker session to the subtask that owns it.
func (o *Orchestrator) FindSubtaskBySessionKey(sessionKey string) (*Mission, *Subtask, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, m := range o.store.All() {
		for _, st := range m.Subtasks {
			if st.ChildSessionKey == sessionKey {
				c := m.Clone()
				return c, c.Subtasks[st.ID], true
			}
		}
	}
	return nil, nil, false
}

// Run consumes completion events until ctx is done or events closes.
func (o *Orchestrator) Run(ctx context.Context, events <-chan RunCompletion) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-events:
			if !ok {
				return nil
			}
			o.HandleCompletion(ctx, c)
		}
	}
}

// HandleCompletion claims the run and dispatches it. It returns false when
// the run is unknown or was already handled.
func (o *Orchestrator) HandleCompletion(ctx context.Context, c RunCompletion) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	ref, ok := o.store.TakeRun(c.RunID)
	if !ok {
		o.logger.Debug("completion for unknown run ignored", zap.String("run", c.RunID))
		return false
	}
	m, ok := o.store.Get(ref.MissionID)
	if !ok {
		return false
	}
	st, ok := m.Subtasks[ref.SubtaskID]
	if !ok || st.Status != SubtaskRunning || st.RunID != c.RunID {
		o.logger.Warn("stale completion ignored",
			zap.String("mission", ref.MissionID),
			zap.String("subtask", ref.SubtaskID),
			zap.String("run", c.RunID))
		return false
	}

	o.dispatch(ctx, m, st, c)
	return true
}

// Flush waits for queued best-effort side effects.
func (o *Orchestrator) Flush() {
	o.effects.Flush()
}

// Close drains the side-effect queue.
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.effects.Close(ctx)
}

// persist saves a snapshot of every mission. Failures are logged only.
func (o *Orchestrator) persist(ctx context.Context) {
	if o.deps.Persister == nil {
		return
	}
	if err := o.deps.Persister.Save(ctx, o.store.Snapshot()); err != nil {
		o.logger.Warn("persist missions failed", zap.Error(err))
	}
}

func (o *Orchestrator) timeNow() *time.Time {
	t := o.now()
	return &t
}
