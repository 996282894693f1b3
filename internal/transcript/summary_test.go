package transcript

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	for _, m := range []Message{
		{Role: RoleUser, Content: "find the bug"},
		{Role: RoleAssistant, Content: "looking"},
		{Role: RoleTool, ToolName: "grep", Content: "main.go:12"},
		{Role: RoleTool, ToolName: "run", Content: `{"error": "exit 1"}`},
		{Role: RoleTool, Content: "Error: permission denied"},
		{Role: RoleAssistant, Content: strings.Repeat("x", 2000)},
		{Role: RoleAssistant, Content: "   "},
	} {
		if err := log.Append(ctx, "s1", m); err != nil {
			t.Fatal(err)
		}
	}

	sum, err := NewSummarizer(log).Summarize(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalMessages != 7 {
		t.Errorf("TotalMessages = %d", sum.TotalMessages)
	}
	if got := strings.Join(sum.ToolCalls, ","); got != "grep,run,unknown" {
		t.Errorf("ToolCalls = %s", got)
	}
	if sum.ToolErrorCount != 2 {
		t.Errorf("ToolErrorCount = %d, want 2", sum.ToolErrorCount)
	}
	if len(sum.LastAssistantText) != lastTextMax {
		t.Errorf("last text length = %d", len(sum.LastAssistantText))
	}
}

func TestSummarizeEmptySession(t *testing.T) {
	sum, err := NewSummarizer(NewMemoryLog()).Summarize(context.Background(), "none")
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalMessages != 0 || sum.LastAssistantText != "" {
		t.Errorf("summary = %+v", sum)
	}
}

func TestLastReply(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	s := NewSummarizer(log)

	if _, err := s.LastReply(ctx, "s"); !errors.Is(err, ErrNoReply) {
		t.Errorf("err = %v, want ErrNoReply", err)
	}
	log.Append(ctx, "s", Message{Role: RoleAssistant, Content: "first"})
	log.Append(ctx, "s", Message{Role: RoleTool, Content: "ok"})
	log.Append(ctx, "s", Message{Role: RoleAssistant, Content: "second"})
	if got, _ := s.LastReply(ctx, "s"); got != "second" {
		t.Errorf("LastReply = %q", got)
	}
}

func TestIsToolError(t *testing.T) {
	for in, want := range map[string]bool{
		`{"error":"x"}`:    true,
		"  error: timeout": true,
		"ERROR: nope":      true,
		"no errors found":  false,
		`{"result":1}`:     false,
	} {
		if got := IsToolError(in); got != want {
			t.Errorf("IsToolError(%q) = %v", in, got)
		}
	}
}

func TestSummarizeCutsOnRuneBoundary(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	// One ASCII byte shifts every two-byte rune off the limit.
	log.Append(ctx, "s", Message{Role: RoleAssistant, Content: "x" + strings.Repeat("ü", lastTextMax)})

	sum, err := NewSummarizer(log).Summarize(ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(sum.LastAssistantText) {
		t.Error("summary text is not valid UTF-8")
	}
	if n := len(sum.LastAssistantText); n > lastTextMax || n < lastTextMax-1 {
		t.Errorf("len = %d, want within one byte of %d", n, lastTextMax)
	}
}
