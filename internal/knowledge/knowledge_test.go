package knowledge

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

// wordEmbedder maps text to a tiny bag-of-letters vector.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, 4)
		for _, r := range strings.ToLower(t) {
			vec[int(r)%4]++
		}
		out[i] = vec
	}
	return out, nil
}

func (wordEmbedder) Dimension() int { return 4 }

type memVectors struct {
	mu          sync.Mutex
	collections map[string]uint64
	points      map[string][]Hit
	ensureCalls int
}

func newMemVectors() *memVectors {
	return &memVectors{collections: map[string]uint64{}, points: map[string][]Hit{}}
}

func (m *memVectors) EnsureCollection(_ context.Context, name string, dim uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureCalls++
	m.collections[name] = dim
	return nil
}

func (m *memVectors) Upsert(_ context.Context, coll, id string, vec []float32, payload map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[coll]; !ok {
		return errors.New("no collection " + coll)
	}
	m.points[coll] = append(m.points[coll], Hit{ID: id, Score: float32(len(payload["content"])), Payload: payload})
	return nil
}

func (m *memVectors) Search(_ context.Context, coll string, _ []float32, limit uint64) ([]Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hits := append([]Hit(nil), m.points[coll]...)
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if uint64(len(hits)) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func TestCollection(t *testing.T) {
	tests := map[string]string{
		"researcher":  "knowledge_researcher",
		"Team Alpha":  "knowledge_team_alpha",
		"":            "knowledge_shared",
		"agent:x/y-1": "knowledge_agent_x_y-1",
	}
	for scope, want := range tests {
		if got := Collection(scope); got != want {
			t.Errorf("Collection(%q) = %q, want %q", scope, got, want)
		}
	}
}

func TestWriteThenSearch(t *testing.T) {
	vectors := newMemVectors()
	svc := NewService(wordEmbedder{}, vectors, zap.NewNop())
	ctx := context.Background()

	if err := svc.Write(ctx, "the api uses cursor pagination", "researcher", map[string]string{"mission": "m1"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.Write(ctx, "short", "researcher", nil); err != nil {
		t.Fatal(err)
	}
	if vectors.ensureCalls != 1 {
		t.Errorf("EnsureCollection called %d times, want 1", vectors.ensureCalls)
	}
	if vectors.collections["knowledge_researcher"] != 4 {
		t.Errorf("collection dim = %d", vectors.collections["knowledge_researcher"])
	}

	got, err := svc.Search(ctx, "pagination", "researcher", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "the api uses cursor pagination" {
		t.Fatalf("Search = %+v", got)
	}
	if got[0].Metadata["mission"] != "m1" || got[0].Metadata["indexed_at"] == "" {
		t.Errorf("metadata = %v", got[0].Metadata)
	}
	if _, ok := got[0].Metadata["content"]; ok {
		t.Error("content leaked into metadata")
	}

	other, err := svc.Search(ctx, "pagination", "writer", 3)
	if err != nil || len(other) != 0 {
		t.Errorf("other scope = %v, %v", other, err)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	svc := NewService(wordEmbedder{}, newMemVectors(), zap.NewNop())
	got, err := svc.Search(context.Background(), "  ", "a", 3)
	if err != nil || got != nil {
		t.Errorf("Search blank = %v, %v", got, err)
	}
	if err := svc.Write(context.Background(), "", "a", nil); err == nil {
		t.Error("empty write accepted")
	}
}

func TestMissionAdapter(t *testing.T) {
	svc := NewService(wordEmbedder{}, newMemVectors(), zap.NewNop())
	a := svc.ForMissions()
	ctx := context.Background()
	a.Write(ctx, "deploys happen on tuesdays", "ops", nil)

	got, err := a.Search(ctx, "deploy", "ops", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "deploys happen on tuesdays" {
		t.Errorf("adapter Search = %v", got)
	}
}
