package mission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeSubstrate struct {
	mu       sync.Mutex
	requests []SpawnRequest
	replies  map[string]string
	reply    func(req SpawnRequest) string
	fail     func(req SpawnRequest) error
}

func newFakeSubstrate() *fakeSubstrate {
	return &fakeSubstrate{replies: make(map[string]string)}
}

func (f *fakeSubstrate) SpawnRun(_ context.Context, req SpawnRequest) (SpawnResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(req); err != nil {
			return SpawnResult{}, err
		}
	}
	f.requests = append(f.requests, req)
	text := "done: " + req.SubtaskID
	if f.reply != nil {
		text = f.reply(req)
	}
	f.replies[req.SessionKey] = text
	return SpawnResult{RunID: fmt.Sprintf("run-%d", len(f.requests))}, nil
}

func (f *fakeSubstrate) LatestReply(_ context.Context, sessionKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.replies[sessionKey]
	if !ok {
		return "", errors.New("no such session")
	}
	return text, nil
}

func (f *fakeSubstrate) spawned() []SpawnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SpawnRequest(nil), f.requests...)
}

func (f *fakeSubstrate) spawnsFor(subtaskID string) []SpawnRequest {
	var out []SpawnRequest
	for _, r := range f.spawned() {
		if r.SubtaskID == subtaskID {
			out = append(out, r)
		}
	}
	return out
}

type fakeRegistry struct {
	mu      sync.Mutex
	records map[string]RunRecord
	getErr  error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{records: make(map[string]RunRecord)}
}

func (r *fakeRegistry) Register(_ context.Context, rec RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.RunID] = rec
	return nil
}

func (r *fakeRegistry) Get(_ context.Context, runID string) (RunRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return RunRecord{}, false, r.getErr
	}
	rec, ok := r.records[runID]
	return rec, ok, nil
}

type memPersister struct {
	mu       sync.Mutex
	missions map[string]*Mission
	saves    int
}

func (p *memPersister) Save(_ context.Context, missions map[string]*Mission) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.missions = missions
	p.saves++
	return nil
}

func (p *memPersister) Load(_ context.Context) (map[string]*Mission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*Mission, len(p.missions))
	for id, m := range p.missions {
		out[id] = m.Clone()
	}
	return out, nil
}

type announcement struct {
	to   Requester
	text string
}

type fakeAnnouncer struct {
	mu   sync.Mutex
	sent []announcement
}

func (a *fakeAnnouncer) Announce(_ context.Context, to Requester, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, announcement{to: to, text: text})
	return nil
}

func (a *fakeAnnouncer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

type fakeWorkLog struct {
	mu      sync.Mutex
	entries []WorkLogEntry
}

func (w *fakeWorkLog) Record(_ context.Context, e WorkLogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, e)
	return nil
}

type fakeBoard struct {
	mu      sync.Mutex
	updates map[string]Status
}

func (b *fakeBoard) UpdateStatus(_ context.Context, missionID string, status Status, _ StatusCounts) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.updates == nil {
		b.updates = make(map[string]Status)
	}
	b.updates[missionID] = status
	return nil
}

type fakeKnowledge struct {
	mu       sync.Mutex
	snippets []string
	delay    time.Duration
	writes   []string
}

func (k *fakeKnowledge) Search(ctx context.Context, _, _ string, limit int) ([]string, error) {
	if k.delay > 0 {
		select {
		case <-time.After(k.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if len(k.snippets) > limit {
		return k.snippets[:limit], nil
	}
	return k.snippets, nil
}

func (k *fakeKnowledge) Write(_ context.Context, content, _ string, _ map[string]string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.writes = append(k.writes, content)
	return nil
}

type fakeSummarizer struct {
	summary TranscriptSummary
}

func (s fakeSummarizer) Summarize(context.Context, string) (TranscriptSummary, error) {
	return s.summary, nil
}

type harness struct {
	orch      *Orchestrator
	substrate *fakeSubstrate
	registry  *fakeRegistry
	persister *memPersister
	announcer *fakeAnnouncer
	worklog   *fakeWorkLog
	board     *fakeBoard
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		substrate: newFakeSubstrate(),
		registry:  newFakeRegistry(),
		persister: &memPersister{},
		announcer: &fakeAnnouncer{},
		worklog:   &fakeWorkLog{},
		board:     &fakeBoard{},
	}
	h.orch = New(cfg, Deps{
		Substrate: h.substrate,
		Registry:  h.registry,
		Persister: h.persister,
		Announcer: h.announcer,
		WorkLog:   h.worklog,
		Board:     h.board,
	}, zap.NewNop())
	t.Cleanup(func() {
		_ = h.orch.Close(context.Background())
	})
	return h
}

func (h *harness) create(t *testing.T, defs ...SubtaskDef) string {
	t.Helper()
	id, err := h.orch.CreateMission(context.Background(), "test mission", defs, Requester{SessionKey: "user:1"}, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateMission: %v", err)
	}
	return id
}

func (h *harness) finish(t *testing.T, runID string, outcome Outcome) bool {
	t.Helper()
	return h.orch.HandleCompletion(context.Background(), RunCompletion{
		RunID:   runID,
		Outcome: outcome,
		EndedAt: time.Now(),
	})
}

func (h *harness) mission(t *testing.T, id string) *Mission {
	t.Helper()
	m, err := h.orch.GetMission(id)
	if err != nil {
		t.Fatalf("GetMission: %v", err)
	}
	return m
}

func (h *harness) runOf(t *testing.T, missionID, subtaskID string) string {
	t.Helper()
	st := h.mission(t, missionID).Subtasks[subtaskID]
	if st.Status != SubtaskRunning {
		t.Fatalf("subtask %s is %s, want running", subtaskID, st.Status)
	}
	return st.RunID
}

func def(id, agent string, after ...string) SubtaskDef {
	return SubtaskDef{ID: id, AgentID: agent, Task: "do " + id, After: after}
}
