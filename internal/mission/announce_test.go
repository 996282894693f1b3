package mission

import (
	"strings"
	"testing"
)

func TestFormatResult(t *testing.T) {
	m := &Mission{
		Label:          "launch review",
		Status:         StatusPartial,
		ExecutionOrder: []string{"research", "draft", "publish"},
		Subtasks: map[string]*Subtask{
			"research": {ID: "research", AgentID: "scout", Status: SubtaskOK, Result: "  three sources  ", LoopCount: 2},
			"draft":    {ID: "draft", AgentID: "writer", Status: SubtaskError, RetryCount: 1, Outcome: &Outcome{Status: OutcomeError, Error: "model overloaded"}},
			"publish":  {ID: "publish", AgentID: "ops", Status: SubtaskSkipped, Outcome: &Outcome{Status: OutcomeError, Error: `dependency "draft" did not succeed`}},
		},
	}

	got := FormatResult(m)
	for _, want := range []string{
		`Mission "launch review" partially completed: 1 succeeded, 1 failed, 1 skipped.`,
		"[ok] research (scout) [3 iterations]\nthree sources",
		"[error] draft (writer) [1 retries]\nError: model overloaded",
		"[skipped] publish (ops)\nSkipped: dependency \"draft\" did not succeed",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if strings.Index(got, "research") > strings.Index(got, "publish") {
		t.Error("sections not in execution order")
	}
}

func TestTerminalStatus(t *testing.T) {
	mk := func(statuses ...SubtaskStatus) *Mission {
		m := &Mission{Subtasks: map[string]*Subtask{}}
		for i, s := range statuses {
			id := string(rune('a' + i))
			m.Subtasks[id] = &Subtask{ID: id, Status: s}
		}
		return m
	}
	tests := []struct {
		name     string
		m        *Mission
		want     Status
		terminal bool
	}{
		{"all ok", mk(SubtaskOK, SubtaskOK), StatusCompleted, true},
		{"all failed", mk(SubtaskError, SubtaskSkipped), StatusFailed, true},
		{"mixed", mk(SubtaskOK, SubtaskSkipped), StatusPartial, true},
		{"running", mk(SubtaskOK, SubtaskRunning), "", false},
		{"pending", mk(SubtaskPending), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, done := TerminalStatus(tt.m)
			if got != tt.want || done != tt.terminal {
				t.Errorf("got %q/%v, want %q/%v", got, done, tt.want, tt.terminal)
			}
		})
	}
}
