package mission

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SessionLostReason marks subtasks whose run could not be found after a restart.
const SessionLostReason = "session lost during gateway restart"

// InitRecovery loads persisted missions and reconciles subtasks left running
// by a previous process against the run registry. Call it once at startup,
// after subscribing to completions and before consuming them.
func (o *Orchestrator) InitRecovery(ctx context.Context) error {
	if o.deps.Persister == nil {
		return nil
	}
	loaded, err := o.deps.Persister.Load(ctx)
	if err != nil {
		return fmt.Errorf("load missions: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.store.Replace(loaded)
	recovered := 0
	for _, m := range o.store.All() {
		if m.Status != StatusRunning {
			continue
		}
		if o.recoverMission(ctx, m) {
			recovered++
		}
	}

	o.logger.Info("recovery finished",
		zap.Int("missions", len(loaded)),
		zap.Int("reconciled", recovered),
		zap.Int("in_flight_runs", o.store.IndexedRuns()))
	o.persist(ctx)
	return nil
}

// recoverMission reconciles one running mission. Missions left with no live
// run are closed out: pending subtasks are skipped and the mission goes
// through the completion check.
func (o *Orchestrator) recoverMission(ctx context.Context, m *Mission) bool {
	touched := false
	live := 0
	cutoff := o.bootedAt.Add(-o.cfg.RecoveryGrace)

	for _, st := range m.Ordered() {
		if st.Status != SubtaskRunning {
			continue
		}
		if st.RunID == "" {
			o.markLost(m, st)
			touched = true
			continue
		}

		rec, found, err := o.deps.Registry.Get(ctx, st.RunID)
		switch {
		case err != nil:
			o.logger.Warn("registry lookup failed during recovery, keeping run",
				zap.String("mission", m.ID),
				zap.String("run", st.RunID),
				zap.Error(err))
			o.store.IndexRun(st.RunID, m.ID, st.ID)
			live++
		case !found:
			o.markLost(m, st)
			touched = true
		case rec.Ended():
			o.adopt(ctx, m, st, rec)
			touched = true
		case rec.StartedAt.Before(cutoff):
			o.markLost(m, st)
			touched = true
		default:
			o.store.IndexRun(st.RunID, m.ID, st.ID)
			live++
		}
	}

	if live > 0 {
		return touched
	}
	for _, st := range m.Subtasks {
		if st.Status == SubtaskPending {
			failure := Failure("mission interrupted by restart")
			st.Status = SubtaskSkipped
			st.Outcome = &failure
			st.EndedAt = o.timeNow()
			touched = true
		}
	}
	o.checkCompletion(ctx, m)
	return touched
}

// adopt applies an outcome the registry saw while we were down.
func (o *Orchestrator) adopt(ctx context.Context, m *Mission, st *Subtask, rec RunRecord) {
	st.EndedAt = copyTime(rec.EndedAt)
	outcome := Failure("run failed")
	if rec.Outcome != nil {
		outcome = *rec.Outcome
	}
	st.Outcome = &outcome

	if outcome.IsOK() {
		st.Status = SubtaskOK
		st.Result = o.latestReply(ctx, st.ChildSessionKey)
	} else {
		st.Status = SubtaskError
		o.skipDependents(m, st.ID)
	}
	o.logger.Info("adopted run outcome",
		zap.String("mission", m.ID),
		zap.String("subtask", st.ID),
		zap.String("run", st.RunID),
		zap.String("status", string(st.Status)))
}

func (o *Orchestrator) markLost(m *Mission, st *Subtask) {
	failure := Failure(SessionLostReason)
	st.Status = SubtaskError
	st.Outcome = &failure
	st.EndedAt = o.timeNow()
	o.skipDependents(m, st.ID)
	o.logger.Warn("subtask session lost",
		zap.String("mission", m.ID),
		zap.String("subtask", st.ID),
		zap.String("run", st.RunID))
}
