package mission

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SpawnFailedTag prefixes the error recorded when the substrate refuses a run.
const SpawnFailedTag = "spawn_failed"

// spawn starts a pending subtask whose dependencies are all ok.
func (o *Orchestrator) spawn(ctx context.Context, m *Mission, st *Subtask) bool {
	if st.Status != SubtaskPending || !dependenciesOK(m, st) {
		return false
	}
	return o.launch(ctx, m, st, st.OriginalTask)
}

// shouldRetry reports whether a failed run gets another attempt.
func (o *Orchestrator) shouldRetry(m *Mission, st *Subtask) bool {
	return st.RetryCount < st.MaxRetries && m.TotalSpawns < m.MaxTotalSpawns
}

// retry re-spawns a failed subtask with the failure and the previous
// session's transcript summary folded into its instruction.
func (o *Orchestrator) retry(ctx context.Context, m *Mission, st *Subtask) bool {
	failure := st.ErrorText()
	st.RetryCount++

	summary := o.summarize(ctx, st.ChildSessionKey)
	base := st.OriginalTask
	if st.LoopCount > 0 && len(st.LoopHistory) > 0 {
		base = loopInstruction(st, true)
	}

	o.logger.Info("retrying subtask",
		zap.String("mission", m.ID),
		zap.String("subtask", st.ID),
		zap.Int("attempt", st.RetryCount),
		zap.Int("max_retries", st.MaxRetries),
		zap.String("reason", failure))

	return o.launch(ctx, m, st, retryInstruction(base, summary, st.RetryCount, st.MaxRetries, failure))
}

// shouldLoop reports whether a successful run needs another iteration.
func (o *Orchestrator) shouldLoop(m *Mission, st *Subtask) bool {
	if st.MaxLoops == nil {
		return false
	}
	if *st.MaxLoops > 0 && st.LoopCount >= *st.MaxLoops {
		return false
	}
	if m.TotalSpawns >= m.MaxTotalSpawns {
		return false
	}
	return !HasDoneSentinel(st.Result)
}

// loop re-spawns a successful subtask for another iteration.
func (o *Orchestrator) loop(ctx context.Context, m *Mission, st *Subtask) bool {
	st.LoopHistory = append(st.LoopHistory, st.Result)
	st.LoopCount++

	o.logger.Info("looping subtask",
		zap.String("mission", m.ID),
		zap.String("subtask", st.ID),
		zap.Int("iteration", st.LoopCount+1),
		zap.Bool("final", finalIteration(st)))

	return o.launch(ctx, m, st, loopInstruction(st, false))
}

// launch is the spawn path shared by first runs, retries and loop
// iterations. On substrate failure the subtask ends in error and its
// dependents are skipped; the caller decides whether to advance.
func (o *Orchestrator) launch(ctx context.Context, m *Mission, st *Subtask, instruction string) bool {
	if st.RunID != "" {
		o.store.DropRun(st.RunID)
	}

	text := o.buildTaskText(ctx, m, st, instruction)
	sessionKey := fmt.Sprintf("agent:%s:mission:%s:%s:%s", st.AgentID, shortID(m.ID), st.ID, shortID(o.newID()))
	idempotencyKey := o.newID()

	st.EffectiveTask = text
	st.ChildSessionKey = sessionKey

	spawnCtx, cancel := context.WithTimeout(ctx, o.cfg.SpawnTimeout)
	res, err := o.deps.Substrate.SpawnRun(spawnCtx, SpawnRequest{
		MissionID:      m.ID,
		SubtaskID:      st.ID,
		AgentID:        st.AgentID,
		Message:        text,
		SessionKey:     sessionKey,
		IdempotencyKey: idempotencyKey,
		Cleanup:        m.Cleanup,
		Timeout:        o.cfg.SpawnTimeout,
	})
	cancel()
	if err != nil {
		o.logger.Warn("spawn failed",
			zap.String("mission", m.ID),
			zap.String("subtask", st.ID),
			zap.String("agent", st.AgentID),
			zap.Error(err))
		failure := Failure(fmt.Sprintf("%s: %v", SpawnFailedTag, err))
		st.Status = SubtaskError
		st.Outcome = &failure
		st.Result = ""
		st.RunID = ""
		st.EndedAt = o.timeNow()
		o.skipDependents(m, st.ID)
		o.persist(ctx)
		return false
	}

	runID := res.RunID
	if runID == "" {
		runID = idempotencyKey
	}
	st.RunID = runID
	st.Status = SubtaskRunning
	st.StartedAt = o.timeNow()
	st.EndedAt = nil
	st.Outcome = nil
	st.Result = ""
	m.TotalSpawns++

	// The registry never retries on our behalf.
	if err := o.deps.Registry.Register(ctx, RunRecord{
		RunID:        runID,
		SessionKey:   sessionKey,
		RequesterKey: m.Requester.SessionKey,
		MissionID:    m.ID,
		SubtaskID:    st.ID,
		Label:        m.Label,
		Cleanup:      m.Cleanup,
		MaxRetries:   0,
		StartedAt:    *st.StartedAt,
	}); err != nil {
		o.logger.Warn("register run failed", zap.String("run", runID), zap.Error(err))
	}
	o.store.IndexRun(runID, m.ID, st.ID)

	o.logger.Info("subtask spawned",
		zap.String("mission", m.ID),
		zap.String("subtask", st.ID),
		zap.String("run", runID),
		zap.Int("total_spawns", m.TotalSpawns))
	o.persist(ctx)
	return true
}

func (o *Orchestrator) summarize(ctx context.Context, sessionKey string) TranscriptSummary {
	if o.deps.Summarizer == nil || sessionKey == "" {
		return TranscriptSummary{}
	}
	s, err := o.deps.Summarizer.Summarize(ctx, sessionKey)
	if err != nil {
		o.logger.Debug("transcript summary unavailable", zap.String("session", sessionKey), zap.Error(err))
		return TranscriptSummary{}
	}
	return s
}

func dependenciesOK(m *Mission, st *Subtask) bool {
	for _, dep := range st.After {
		d, ok := m.Subtasks[dep]
		if !ok || d.Status != SubtaskOK {
			return false
		}
	}
	return true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
