package mission

import (
	"fmt"
	"strings"
)

const resultSectionMax = 3000

// FormatResult renders the final announcement: one section per subtask in
// execution order, with results for successes and error text for failures.
func FormatResult(m *Mission) string {
	counts := Counts(m)
	var b strings.Builder

	switch m.Status {
	case StatusCompleted:
		fmt.Fprintf(&b, "Mission %q completed: all %d subtasks succeeded.\n", m.Label, counts.OK)
	case StatusPartial:
		fmt.Fprintf(&b, "Mission %q partially completed: %d succeeded, %d failed, %d skipped.\n",
			m.Label, counts.OK, counts.Error, counts.Skipped)
	case StatusFailed:
		fmt.Fprintf(&b, "Mission %q failed: %d failed, %d skipped.\n", m.Label, counts.Error, counts.Skipped)
	default:
		fmt.Fprintf(&b, "Mission %q is %s.\n", m.Label, m.Status)
	}

	for _, st := range m.Ordered() {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s %s (%s)", statusIcon(st.Status), st.ID, st.AgentID)
		if extra := attempts(st); extra != "" {
			fmt.Fprintf(&b, " [%s]", extra)
		}
		b.WriteString("\n")

		switch st.Status {
		case SubtaskOK:
			if strings.TrimSpace(st.Result) != "" {
				b.WriteString(truncate(strings.TrimSpace(st.Result), resultSectionMax))
				b.WriteString("\n")
			}
		case SubtaskError:
			fmt.Fprintf(&b, "Error: %s\n", orDefault(st.ErrorText(), "unknown error"))
		case SubtaskSkipped:
			fmt.Fprintf(&b, "Skipped: %s\n", orDefault(st.ErrorText(), "a dependency did not succeed"))
		}
	}
	return b.String()
}

func statusIcon(s SubtaskStatus) string {
	switch s {
	case SubtaskOK:
		return "[ok]"
	case SubtaskError:
		return "[error]"
	case SubtaskSkipped:
		return "[skipped]"
	default:
		return "[" + string(s) + "]"
	}
}

func attempts(st *Subtask) string {
	var parts []string
	if st.LoopCount > 0 {
		parts = append(parts, fmt.Sprintf("%d iterations", st.LoopCount+1))
	}
	if st.RetryCount > 0 {
		parts = append(parts, fmt.Sprintf("%d retries", st.RetryCount))
	}
	return strings.Join(parts, ", ")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
