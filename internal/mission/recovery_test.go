package mission

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// restart builds a fresh orchestrator over the same persister and registry.
func restart(t *testing.T, h *harness, bootedAt time.Time) *Orchestrator {
	t.Helper()
	o := New(Config{RecoveryGrace: time.Minute}, Deps{
		Substrate: h.substrate,
		Registry:  h.registry,
		Persister: h.persister,
		Announcer: h.announcer,
	}, zap.NewNop())
	o.bootedAt = bootedAt
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	if err := o.InitRecovery(context.Background()); err != nil {
		t.Fatalf("InitRecovery: %v", err)
	}
	return o
}

func TestRecoveryMissingRunMarksSessionLost(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.create(t, def("a", "x"), def("b", "x", "a"))
	run := h.runOf(t, id, "a")

	delete(h.registry.records, run)
	o := restart(t, h, time.Now())
	o.Flush()

	m, err := o.GetMission(id)
	if err != nil {
		t.Fatal(err)
	}
	a := m.Subtasks["a"]
	if a.Status != SubtaskError || a.ErrorText() != SessionLostReason {
		t.Errorf("a = %s %q", a.Status, a.ErrorText())
	}
	if m.Subtasks["b"].Status != SubtaskSkipped {
		t.Errorf("b = %s, want skipped", m.Subtasks["b"].Status)
	}
	if m.Status != StatusFailed || m.CompletedAt == nil {
		t.Errorf("mission = %s, completed_at=%v", m.Status, m.CompletedAt)
	}
	if _, _, ok := o.FindMissionByRunID(run); ok {
		t.Error("lost run still indexed")
	}
}

func TestRecoveryAdoptsEndedRun(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.create(t, def("a", "x"), def("b", "x", "a"))
	run := h.runOf(t, id, "a")

	rec := h.registry.records[run]
	ended := time.Now()
	ok := Succeeded()
	rec.EndedAt, rec.Outcome = &ended, &ok
	h.registry.records[run] = rec

	o := restart(t, h, time.Now())
	m, _ := o.GetMission(id)
	if m.Subtasks["a"].Status != SubtaskOK || m.Subtasks["a"].Result != "done: a" {
		t.Errorf("a = %s %q", m.Subtasks["a"].Status, m.Subtasks["a"].Result)
	}
	// Nothing is left in flight, so the pending dependent is closed out.
	if m.Subtasks["b"].Status != SubtaskSkipped {
		t.Errorf("b = %s, want skipped", m.Subtasks["b"].Status)
	}
	if m.Status != StatusPartial {
		t.Errorf("mission = %s, want partial", m.Status)
	}
	if got := len(h.substrate.spawnsFor("a")); got != 1 {
		t.Errorf("a respawned: %d spawns", got)
	}
}

func TestRecoveryKeepsLiveRun(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.create(t, def("a", "x"), def("b", "x", "a"))
	run := h.runOf(t, id, "a")

	o := restart(t, h, time.Now())
	m, _ := o.GetMission(id)
	if m.Subtasks["a"].Status != SubtaskRunning || m.Subtasks["b"].Status != SubtaskPending {
		t.Fatalf("a=%s b=%s", m.Subtasks["a"].Status, m.Subtasks["b"].Status)
	}

	if !o.HandleCompletion(context.Background(), RunCompletion{RunID: run, Outcome: Succeeded(), EndedAt: time.Now()}) {
		t.Fatal("reindexed run not dispatched")
	}
	m, _ = o.GetMission(id)
	if m.Subtasks["b"].Status != SubtaskRunning {
		t.Errorf("b = %s, want running", m.Subtasks["b"].Status)
	}
}

func TestRecoveryStaleRunTreatedAsLost(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.create(t, def("a", "x"))

	o := restart(t, h, time.Now().Add(time.Hour))
	m, _ := o.GetMission(id)
	if m.Subtasks["a"].ErrorText() != SessionLostReason || m.Status != StatusFailed {
		t.Errorf("a = %s %q, mission %s", m.Subtasks["a"].Status, m.Subtasks["a"].ErrorText(), m.Status)
	}
}

func TestRecoveryRegistryErrorKeepsRun(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.create(t, def("a", "x"))
	h.registry.getErr = errors.New("redis down")

	o := restart(t, h, time.Now())
	m, _ := o.GetMission(id)
	if m.Subtasks["a"].Status != SubtaskRunning || m.Status != StatusRunning {
		t.Errorf("a=%s mission=%s", m.Subtasks["a"].Status, m.Status)
	}
}

func TestRecoveryLeavesFinishedMissionsAlone(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.create(t, def("a", "x"))
	h.finish(t, h.runOf(t, id, "a"), Succeeded())
	h.orch.Flush()
	before := h.announcer.count()

	o := restart(t, h, time.Now())
	o.Flush()
	m, _ := o.GetMission(id)
	if m.Status != StatusCompleted {
		t.Errorf("mission = %s", m.Status)
	}
	if h.announcer.count() != before {
		t.Error("finished mission announced again")
	}
}

func TestRecoveryAdoptsFailedRun(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.create(t, def("a", "x"), def("b", "x", "a"), def("c", "x", "b"))
	run := h.runOf(t, id, "a")

	rec := h.registry.records[run]
	ended := time.Now()
	failed := Failure("worker crashed")
	rec.EndedAt, rec.Outcome = &ended, &failed
	h.registry.records[run] = rec

	o := restart(t, h, time.Now())
	o.Flush()
	m, _ := o.GetMission(id)
	if m.Subtasks["a"].Status != SubtaskError || m.Subtasks["a"].ErrorText() != "worker crashed" {
		t.Errorf("a = %s %q", m.Subtasks["a"].Status, m.Subtasks["a"].ErrorText())
	}
	for _, sid := range []string{"b", "c"} {
		if m.Subtasks[sid].Status != SubtaskSkipped {
			t.Errorf("%s = %s, want skipped", sid, m.Subtasks[sid].Status)
		}
	}
	if m.Status != StatusFailed || m.CompletedAt == nil {
		t.Errorf("mission = %s, completed_at=%v", m.Status, m.CompletedAt)
	}
	if got := len(h.substrate.spawnsFor("a")); got != 1 {
		t.Errorf("a respawned: %d spawns", got)
	}
	if _, _, ok := o.FindMissionByRunID(run); ok {
		t.Error("adopted run still indexed")
	}
	if h.announcer.count() != 1 {
		t.Errorf("announcements = %d, want 1", h.announcer.count())
	}
}

// A mission that still has a live run after reconciliation keeps its
// pending work: the live run's completion advances it normally.
func TestRecoveryWithLiveRunKeepsPendingWork(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.create(t, def("a", "x"), def("b", "x", "a"), def("c", "x"), def("d", "x", "c"))
	lost := h.runOf(t, id, "a")
	live := h.runOf(t, id, "c")
	delete(h.registry.records, lost)

	o := restart(t, h, time.Now())
	m, _ := o.GetMission(id)
	if m.Subtasks["a"].ErrorText() != SessionLostReason || m.Subtasks["b"].Status != SubtaskSkipped {
		t.Fatalf("a=%s %q b=%s", m.Subtasks["a"].Status, m.Subtasks["a"].ErrorText(), m.Subtasks["b"].Status)
	}
	if m.Subtasks["c"].Status != SubtaskRunning || m.Subtasks["d"].Status != SubtaskPending {
		t.Fatalf("c=%s d=%s, want running/pending", m.Subtasks["c"].Status, m.Subtasks["d"].Status)
	}
	if m.Status != StatusRunning {
		t.Fatalf("mission = %s, want running", m.Status)
	}

	if !o.HandleCompletion(context.Background(), RunCompletion{RunID: live, Outcome: Succeeded(), EndedAt: time.Now()}) {
		t.Fatal("live run not dispatched")
	}
	m, _ = o.GetMission(id)
	d := m.Subtasks["d"]
	if d.Status != SubtaskRunning {
		t.Fatalf("d = %s, want running", d.Status)
	}
	if !o.HandleCompletion(context.Background(), RunCompletion{RunID: d.RunID, Outcome: Succeeded(), EndedAt: time.Now()}) {
		t.Fatal("d's run not dispatched")
	}
	m, _ = o.GetMission(id)
	if m.Status != StatusPartial {
		t.Errorf("mission = %s, want partial", m.Status)
	}
}
