package mission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// TerminalStatus derives the mission status from its subtasks. ok is false
// while any subtask can still change.
func TerminalStatus(m *Mission) (Status, bool) {
	if len(m.Subtasks) == 0 {
		return "", false
	}
	okCount, failed := 0, 0
	for _, st := range m.Subtasks {
		switch {
		case !st.Status.Terminal():
			return "", false
		case st.Status == SubtaskOK:
			okCount++
		default:
			failed++
		}
	}
	switch {
	case failed == 0:
		return StatusCompleted, true
	case okCount == 0:
		return StatusFailed, true
	default:
		return StatusPartial, true
	}
}

// Counts tallies terminal subtask states.
func Counts(m *Mission) StatusCounts {
	var c StatusCounts
	for _, st := range m.Subtasks {
		switch st.Status {
		case SubtaskOK:
			c.OK++
		case SubtaskError:
			c.Error++
		case SubtaskSkipped:
			c.Skipped++
		}
	}
	return c
}

// checkCompletion finalizes the mission once every subtask is terminal and
// fires the reporting sinks. The announcement goes out at most once.
func (o *Orchestrator) checkCompletion(ctx context.Context, m *Mission) {
	if m.Status != StatusRunning {
		return
	}
	status, done := TerminalStatus(m)
	if !done {
		return
	}

	m.Status = status
	m.CompletedAt = o.timeNow()

	announce := !m.Announced && o.deps.Announcer != nil
	if announce {
		m.Announced = true
	}
	o.logger.Info("mission finished",
		zap.String("mission", m.ID),
		zap.String("status", string(status)),
		zap.Int("total_spawns", m.TotalSpawns))
	o.persist(ctx)

	snapshot := m.Clone()
	o.reportCompletion(snapshot)
	if announce {
		text := FormatResult(snapshot)
		to := snapshot.Requester
		o.effects.Submit("announce", func(ctx context.Context) error {
			return o.deps.Announcer.Announce(ctx, to, text)
		})
	}
}

func (o *Orchestrator) reportCompletion(m *Mission) {
	if o.deps.Board != nil {
		counts := Counts(m)
		o.effects.Submit("board.status", func(ctx context.Context) error {
			return o.deps.Board.UpdateStatus(ctx, m.ID, m.Status, counts)
		})
	}

	if o.deps.WorkLog != nil {
		if start, end, ok := missionSpan(m); ok {
			entry := WorkLogEntry{
				MissionID: m.ID,
				Kind:      WorkKindOrchestration,
				Status:    string(m.Status),
				Detail:    m.Label,
				StartedAt: start,
				EndedAt:   end,
			}
			o.effects.Submit("worklog.orchestration", func(ctx context.Context) error {
				return o.deps.WorkLog.Record(ctx, entry)
			})
		}
	}

	if o.deps.Notes != nil {
		at := o.now()
		if m.CompletedAt != nil {
			at = *m.CompletedAt
		}
		text := dailySummary(m)
		o.effects.Submit("dailynote", func(ctx context.Context) error {
			return o.deps.Notes.Append(ctx, at, text)
		})
	}
}

// missionSpan is earliest subtask start to latest subtask end.
func missionSpan(m *Mission) (time.Time, time.Time, bool) {
	var start, end time.Time
	for _, st := range m.Subtasks {
		if st.StartedAt != nil && (start.IsZero() || st.StartedAt.Before(start)) {
			start = *st.StartedAt
		}
		if st.EndedAt != nil && st.EndedAt.After(end) {
			end = *st.EndedAt
		}
	}
	if start.IsZero() || end.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func dailySummary(m *Mission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mission %q %s (%d spawns)\n", m.Label, m.Status, m.TotalSpawns)
	for _, st := range m.Ordered() {
		fmt.Fprintf(&b, "- %s [%s] %s", st.ID, st.AgentID, st.Status)
		if reason := st.ErrorText(); reason != "" && st.Status != SubtaskOK {
			fmt.Fprintf(&b, ": %s", reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}
