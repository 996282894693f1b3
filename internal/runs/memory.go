package runs

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/nuka-missions/internal/mission"
	"go.uber.org/zap"
)

type subscriber struct {
	ch   chan mission.RunCompletion
	done <-chan struct{}
}

// Memory is an in-process registry for single-node deployments and tests.
type Memory struct {
	mu      sync.Mutex
	records map[string]mission.RunRecord
	subs    map[int]*subscriber
	nextSub int
	logger  *zap.Logger
}

// NewMemory creates an empty in-memory registry.
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		records: make(map[string]mission.RunRecord),
		subs:    make(map[int]*subscriber),
		logger:  logger,
	}
}

// Register stores rec. A run that already ended keeps its outcome.
func (r *Memory) Register(_ context.Context, rec mission.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.records[rec.RunID]; ok && prev.Ended() {
		rec.EndedAt = prev.EndedAt
		rec.Outcome = prev.Outcome
	}
	r.records[rec.RunID] = rec
	return nil
}

// Get returns the record for runID.
func (r *Memory) Get(_ context.Context, runID string) (mission.RunRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[runID]
	return rec, ok, nil
}

// Complete marks the run ended and notifies subscribers. Only the first
// report for a run id is delivered.
func (r *Memory) Complete(ctx context.Context, runID string, outcome mission.Outcome, endedAt time.Time) error {
	r.mu.Lock()
	rec, ok := r.records[runID]
	if ok && rec.Ended() {
		r.mu.Unlock()
		r.logger.Debug("duplicate completion dropped", zap.String("run", runID))
		return nil
	}
	if !ok {
		rec = mission.RunRecord{RunID: runID, StartedAt: endedAt}
	}
	rec.EndedAt = &endedAt
	rec.Outcome = &outcome
	r.records[runID] = rec

	subs := make([]*subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	c := mission.RunCompletion{
		RunID:      runID,
		SessionKey: rec.SessionKey,
		Outcome:    outcome,
		StartedAt:  rec.StartedAt,
		EndedAt:    endedAt,
	}
	for _, s := range subs {
		select {
		case s.ch <- c:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a listener. The channel is never closed; it simply
// stops receiving once ctx is done.
func (r *Memory) Subscribe(ctx context.Context) <-chan mission.RunCompletion {
	s := &subscriber{ch: make(chan mission.RunCompletion, subscriberBuffer), done: ctx.Done()}

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = s
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}()
	return s.ch
}
