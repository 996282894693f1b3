package mission

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DoneSentinel is the token a looping worker emits when it is truly done.
const DoneSentinel = "LOOP_DONE"

const (
	sentinelWindow      = 200
	knowledgeLimit      = 3
	knowledgeSnippetMax = 300
	summaryTextMax      = 1500
)

var doneSentinelRe = regexp.MustCompile(`(?i)\bLOOP_DONE\b`)

// HasDoneSentinel reports whether the sentinel appears in the last 200
// characters of result. Mentions earlier in a long reply do not count.
func HasDoneSentinel(result string) bool {
	tail := result
	if len(tail) > sentinelWindow {
		tail = tail[len(tail)-sentinelWindow:]
	}
	return doneSentinelRe.MatchString(tail)
}

// withDependencies prefixes task with the results of finished prerequisites.
func withDependencies(m *Mission, st *Subtask, task string) string {
	if len(st.After) == 0 {
		return task
	}

	var sections []string
	for _, depID := range st.After {
		dep, ok := m.Subtasks[depID]
		if !ok || dep.Status != SubtaskOK || strings.TrimSpace(dep.Result) == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("### Results from %q (%s)\n%s", depID, dep.AgentID, dep.Result))
	}
	if len(sections) == 0 {
		return task
	}

	var b strings.Builder
	b.WriteString("## Context: Results from prerequisite tasks\n\n")
	b.WriteString(strings.Join(sections, "\n\n"))
	b.WriteString("\n\n---\n\n## Your Task\n")
	b.WriteString(task)
	return b.String()
}

// buildTaskText assembles the instruction sent to a worker: dependency
// results, team knowledge, the task itself and the agent directive.
func (o *Orchestrator) buildTaskText(ctx context.Context, m *Mission, st *Subtask, task string) string {
	text := withDependencies(m, st, task)

	if snippets := o.lookupKnowledge(ctx, st.AgentID, st.OriginalTask); len(snippets) > 0 {
		var b strings.Builder
		b.WriteString("## Team Knowledge\n")
		for _, s := range snippets {
			fmt.Fprintf(&b, "- %s\n", truncate(s, knowledgeSnippetMax))
		}
		b.WriteString("\n")
		b.WriteString(text)
		text = b.String()
	}

	if policy, ok := o.cfg.Agents[st.AgentID]; ok && strings.TrimSpace(policy.Directive) != "" {
		text = text + "\n\n---\n\n" + policy.Directive
	}
	return text
}

// lookupKnowledge races the knowledge service against a short budget.
// Failures and timeouts yield nil.
func (o *Orchestrator) lookupKnowledge(ctx context.Context, scope, query string) []string {
	if o.deps.Knowledge == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.KnowledgeTimeout)
	defer cancel()

	type result struct {
		snippets []string
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := o.deps.Knowledge.Search(ctx, query, scope, knowledgeLimit)
		ch <- result{snippets: s, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			o.logger.Debug("knowledge lookup failed", zap.String("scope", scope), zap.Error(r.err))
			return nil
		}
		if len(r.snippets) > knowledgeLimit {
			r.snippets = r.snippets[:knowledgeLimit]
		}
		return r.snippets
	case <-ctx.Done():
		o.logger.Debug("knowledge lookup timed out", zap.String("scope", scope))
		return nil
	}
}

// loopInstruction frames the next "continue until done" iteration. Only the
// latest iteration's result is carried forward.
func loopInstruction(st *Subtask, retry bool) string {
	var b strings.Builder

	if st.MaxLoops != nil && *st.MaxLoops > 0 {
		fmt.Fprintf(&b, "[Iteration %d of %d]\n", st.LoopCount+1, *st.MaxLoops+1)
	} else {
		fmt.Fprintf(&b, "[Iteration %d]\n", st.LoopCount+1)
	}
	if retry {
		b.WriteString("This is a retry: the previous attempt at this iteration failed before finishing.\n")
	}
	fmt.Fprintf(&b, "This task runs until it is done. %d earlier iteration(s) already ran.\n\n", len(st.LoopHistory))

	if n := len(st.LoopHistory); n > 0 {
		b.WriteString("## Most recent iteration result\n")
		b.WriteString(st.LoopHistory[n-1])
		b.WriteString("\n\n")
	}

	b.WriteString("## Original task\n")
	b.WriteString(st.OriginalTask)
	b.WriteString("\n\n## Instructions\n")
	b.WriteString("- Verify claims from earlier iterations independently; do not trust them blindly.\n")
	b.WriteString("- Try a different approach than previous iterations where they fell short.\n")
	fmt.Fprintf(&b, "- When the task is truly complete, end your reply with %s on its own line.\n", DoneSentinel)

	if finalIteration(st) {
		fmt.Fprintf(&b, "\nThis is the FINAL iteration. Wrap up now: deliver the complete final result in this reply and end it with %s.\n", DoneSentinel)
	}
	return b.String()
}

func finalIteration(st *Subtask) bool {
	return st.MaxLoops != nil && *st.MaxLoops > 0 && st.LoopCount >= *st.MaxLoops
}

// retryInstruction wraps task with what went wrong last time.
func retryInstruction(task string, summary TranscriptSummary, attempt, maxRetries int, failure string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Retry %d of %d]\n", attempt, maxRetries)
	b.WriteString("A previous attempt at this task failed.\n\n")

	b.WriteString("## Last failure\n")
	if strings.TrimSpace(failure) == "" {
		failure = "unknown error"
	}
	b.WriteString(failure)
	b.WriteString("\n\n")

	if summary.TotalMessages > 0 {
		b.WriteString("## What the previous attempt did\n")
		fmt.Fprintf(&b, "- Messages: %d\n", summary.TotalMessages)
		fmt.Fprintf(&b, "- Tool calls: %d (%d failed)\n", len(summary.ToolCalls), summary.ToolErrorCount)
		if len(summary.ToolCalls) > 0 {
			fmt.Fprintf(&b, "- Tools used: %s\n", strings.Join(uniqueStrings(summary.ToolCalls), ", "))
		}
		if summary.LastAssistantText != "" {
			b.WriteString("- Last reply before failing:\n")
			b.WriteString(truncate(summary.LastAssistantText, summaryTextMax))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Avoid repeating the same failure. Pick up from what already worked.\n\n")
	b.WriteString("## Task\n")
	b.WriteString(task)
	return b.String()
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// truncate cuts s to at most max bytes on a rune boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
