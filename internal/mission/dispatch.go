package mission

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const memoryNoteMax = 2000

// dispatch applies a claimed run completion. Loop and retry decisions are
// made before the subtask is marked terminal.
func (o *Orchestrator) dispatch(ctx context.Context, m *Mission, st *Subtask, c RunCompletion) {
	ended := c.EndedAt
	if ended.IsZero() {
		ended = o.now()
	}
	outcome := c.Outcome
	if !outcome.IsOK() {
		outcome.Status = OutcomeError
		if outcome.Error == "" {
			outcome.Error = "run failed"
		}
	}
	st.EndedAt = &ended
	st.Outcome = &outcome
	o.recordSpawn(m, st, outcome, ended)

	if outcome.IsOK() {
		st.Result = o.latestReply(ctx, st.ChildSessionKey)
		o.recordSuccess(m, st)

		if o.shouldLoop(m, st) {
			if !o.loop(ctx, m, st) {
				o.advance(ctx, m)
				o.checkCompletion(ctx, m)
			}
			return
		}

		st.Status = SubtaskOK
		o.logger.Info("subtask succeeded", zap.String("mission", m.ID), zap.String("subtask", st.ID))
		o.persist(ctx)
		o.advance(ctx, m)
		o.checkCompletion(ctx, m)
		return
	}

	if o.shouldRetry(m, st) {
		if !o.retry(ctx, m, st) {
			o.advance(ctx, m)
			o.checkCompletion(ctx, m)
		}
		return
	}

	st.Status = SubtaskError
	o.logger.Info("subtask failed",
		zap.String("mission", m.ID),
		zap.String("subtask", st.ID),
		zap.String("reason", outcome.Error))
	o.skipDependents(m, st.ID)
	o.persist(ctx)
	o.advance(ctx, m)
	o.checkCompletion(ctx, m)
}

// advance skips pending subtasks behind a failure and spawns the ones whose
// dependencies are all ok.
func (o *Orchestrator) advance(ctx context.Context, m *Mission) {
	if m.Status != StatusRunning {
		return
	}

	skipped := false
	for _, id := range m.ExecutionOrder {
		st := m.Subtasks[id]
		if st == nil || st.Status != SubtaskPending {
			continue
		}

		blockedBy := ""
		for _, dep := range st.After {
			if d := m.Subtasks[dep]; d != nil && d.Status.Failed() {
				blockedBy = dep
				break
			}
		}
		if blockedBy != "" {
			o.markSkipped(st, blockedBy)
			o.skipDependents(m, id)
			skipped = true
			continue
		}

		if dependenciesOK(m, st) {
			o.spawn(ctx, m, st)
		}
	}
	if skipped {
		o.persist(ctx)
	}
}

// skipDependents walks the dependents graph breadth-first from failedID and
// marks every pending node skipped. Each node is visited once.
func (o *Orchestrator) skipDependents(m *Mission, failedID string) {
	dependents := dependentsOf(m)
	visited := map[string]bool{failedID: true}
	queue := []string{failedID}

	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		for _, next := range dependents[curr] {
			if visited[next] {
				continue
			}
			visited[next] = true
			if st := m.Subtasks[next]; st != nil && st.Status == SubtaskPending {
				o.markSkipped(st, curr)
			}
			queue = append(queue, next)
		}
	}
}

func (o *Orchestrator) markSkipped(st *Subtask, cause string) {
	failure := Failure(fmt.Sprintf("dependency %q did not succeed", cause))
	st.Status = SubtaskSkipped
	st.Outcome = &failure
	st.EndedAt = o.timeNow()
}

func (o *Orchestrator) latestReply(ctx context.Context, sessionKey string) string {
	if sessionKey == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SpawnTimeout)
	defer cancel()
	text, err := o.deps.Substrate.LatestReply(ctx, sessionKey)
	if err != nil {
		o.logger.Warn("fetch latest reply failed", zap.String("session", sessionKey), zap.Error(err))
		return ""
	}
	return text
}

// recordSpawn queues the run's duration for the work log.
func (o *Orchestrator) recordSpawn(m *Mission, st *Subtask, outcome Outcome, ended time.Time) {
	if o.deps.WorkLog == nil {
		return
	}
	started := ended
	if st.StartedAt != nil {
		started = *st.StartedAt
	}
	entry := WorkLogEntry{
		MissionID: m.ID,
		SubtaskID: st.ID,
		AgentID:   st.AgentID,
		Kind:      WorkKindSpawn,
		Status:    string(outcome.Status),
		Detail:    outcome.Error,
		StartedAt: started,
		EndedAt:   ended,
	}
	o.effects.Submit("worklog.spawn", func(ctx context.Context) error {
		return o.deps.WorkLog.Record(ctx, entry)
	})
}

// recordSuccess queues the memory note and knowledge write for a
// successful run.
func (o *Orchestrator) recordSuccess(m *Mission, st *Subtask) {
	if st.Result == "" {
		return
	}
	if o.deps.Memory != nil {
		note := MemoryNote{
			AgentID:   st.AgentID,
			MissionID: m.ID,
			SubtaskID: st.ID,
			Label:     m.Label,
			Content:   truncate(fmt.Sprintf("Mission %q, subtask %q: %s", m.Label, st.ID, st.Result), memoryNoteMax),
		}
		o.effects.Submit("memory.note", func(ctx context.Context) error {
			return o.deps.Memory.AppendNote(ctx, note)
		})
	}
	if o.deps.Knowledge != nil {
		content, scope := st.Result, st.AgentID
		meta := map[string]string{"mission": m.ID, "subtask": st.ID, "label": m.Label}
		o.effects.Submit("knowledge.write", func(ctx context.Context) error {
			return o.deps.Knowledge.Write(ctx, content, scope, meta)
		})
	}
}
