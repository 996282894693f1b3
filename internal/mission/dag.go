package mission

import "fmt"

// ValidationErrorKind classifies a rejected subtask graph.
type ValidationErrorKind string

const (
	ErrKindEmpty             ValidationErrorKind = "empty"
	ErrKindDuplicateID       ValidationErrorKind = "duplicate_id"
	ErrKindUnknownDependency ValidationErrorKind = "unknown_dependency"
	ErrKindCycle             ValidationErrorKind = "cycle"
	ErrKindInvalidSubtask    ValidationErrorKind = "invalid_subtask"
)

// ValidationError describes the first problem found in a subtask graph.
type ValidationError struct {
	Kind      ValidationErrorKind
	SubtaskID string
	// Missing names the absent dependency, or the absent field for
	// invalid_subtask.
	Missing string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ErrKindEmpty:
		return "mission has no subtasks"
	case ErrKindDuplicateID:
		return fmt.Sprintf("duplicate subtask id %q", e.SubtaskID)
	case ErrKindUnknownDependency:
		return fmt.Sprintf("subtask %q depends on unknown subtask %q", e.SubtaskID, e.Missing)
	case ErrKindCycle:
		return "cycle detected in subtask dependencies"
	case ErrKindInvalidSubtask:
		return fmt.Sprintf("subtask %q is missing %s", e.SubtaskID, e.Missing)
	default:
		return string(e.Kind)
	}
}

// ValidateDAG checks ids and edges and returns a topological order.
// Checks run in order: duplicate id, unknown dependency, cycle.
func ValidateDAG(defs []SubtaskDef) ([]string, error) {
	if len(defs) == 0 {
		return nil, &ValidationError{Kind: ErrKindEmpty}
	}

	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if seen[d.ID] {
			return nil, &ValidationError{Kind: ErrKindDuplicateID, SubtaskID: d.ID}
		}
		seen[d.ID] = true
	}

	for _, d := range defs {
		for _, dep := range d.After {
			if !seen[dep] {
				return nil, &ValidationError{Kind: ErrKindUnknownDependency, SubtaskID: d.ID, Missing: dep}
			}
		}
	}

	// Kahn's algorithm. Adjacency and queue follow input order so the
	// result is deterministic.
	inDegree := make(map[string]int, len(defs))
	dependents := make(map[string][]string, len(defs))
	for _, d := range defs {
		inDegree[d.ID] += 0
		for _, dep := range d.After {
			inDegree[d.ID]++
			dependents[dep] = append(dependents[dep], d.ID)
		}
	}

	queue := make([]string, 0, len(defs))
	for _, d := range defs {
		if inDegree[d.ID] == 0 {
			queue = append(queue, d.ID)
		}
	}

	order := make([]string, 0, len(defs))
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		order = append(order, curr)
		for _, next := range dependents[curr] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) < len(defs) {
		return nil, &ValidationError{Kind: ErrKindCycle}
	}
	return order, nil
}

// dependentsOf builds the reverse edge map of a mission.
func dependentsOf(m *Mission) map[string][]string {
	out := make(map[string][]string, len(m.Subtasks))
	for _, id := range m.ExecutionOrder {
		st := m.Subtasks[id]
		for _, dep := range st.After {
			out[dep] = append(out[dep], id)
		}
	}
	return out
}
