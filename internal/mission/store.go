package mission

import "sort"

type runRef struct {
	MissionID string
	SubtaskID string
}

// Store is the in-memory registry of missions plus the run index used to
// route completions. It is not safe for concurrent use; the orchestrator
// serializes access.
type Store struct {
	missions map[string]*Mission
	runIndex map[string]runRef
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		missions: make(map[string]*Mission),
		runIndex: make(map[string]runRef),
	}
}

// Put adds or replaces a mission.
func (s *Store) Put(m *Mission) {
	s.missions[m.ID] = m
}

// Get returns the live mission record.
func (s *Store) Get(id string) (*Mission, bool) {
	m, ok := s.missions[id]
	return m, ok
}

// All returns live missions ordered by creation time.
func (s *Store) All() []*Mission {
	out := make([]*Mission, 0, len(s.missions))
	for _, m := range s.missions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Snapshot deep-copies every mission for persistence.
func (s *Store) Snapshot() map[string]*Mission {
	out := make(map[string]*Mission, len(s.missions))
	for id, m := range s.missions {
		out[id] = m.Clone()
	}
	return out
}

// Replace swaps the mission set, clearing the run index.
func (s *Store) Replace(missions map[string]*Mission) {
	s.missions = make(map[string]*Mission, len(missions))
	for id, m := range missions {
		if m == nil {
			continue
		}
		if m.ID == "" {
			m.ID = id
		}
		s.missions[m.ID] = m
	}
	s.runIndex = make(map[string]runRef)
}

// IndexRun maps a run id to its subtask.
func (s *Store) IndexRun(runID, missionID, subtaskID string) {
	s.runIndex[runID] = runRef{MissionID: missionID, SubtaskID: subtaskID}
}

// LookupRun resolves a run id without removing it.
func (s *Store) LookupRun(runID string) (runRef, bool) {
	ref, ok := s.runIndex[runID]
	return ref, ok
}

// TakeRun removes and returns the index entry. Only the first caller for a
// run id gets ok == true.
func (s *Store) TakeRun(runID string) (runRef, bool) {
	ref, ok := s.runIndex[runID]
	if ok {
		delete(s.runIndex, runID)
	}
	return ref, ok
}

// DropRun removes an index entry if present.
func (s *Store) DropRun(runID string) {
	delete(s.runIndex, runID)
}

// IndexedRuns returns the number of in-flight runs.
func (s *Store) IndexedRuns() int {
	return len(s.runIndex)
}
