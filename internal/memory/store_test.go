//go:build e2e

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/nuka-missions/internal/mission"
	"github.com/testcontainers/testcontainers-go"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"
)

func startNeo4j(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("neo4j bolt url: %v", err)
	}
	s, err := NewStore(uri, "", "", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close(ctx) })
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNotesRoundTrip(t *testing.T) {
	s := startNeo4j(t)
	ctx := context.Background()

	if err := s.AppendNote(ctx, mission.MemoryNote{AgentID: "scout", MissionID: "m1", SubtaskID: "a", Label: "report", Content: "found 3 sources"}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := s.AppendNote(ctx, mission.MemoryNote{AgentID: "scout", MissionID: "m2", SubtaskID: "x", Content: "second"}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendNote(ctx, mission.MemoryNote{AgentID: "writer", MissionID: "m1", SubtaskID: "b", Content: "draft done"}); err != nil {
		t.Fatal(err)
	}

	notes, err := s.Notes(ctx, "scout", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 2 || notes[0].Content != "second" || notes[1].Importance != DefaultImportance {
		t.Fatalf("scout notes = %+v", notes)
	}

	linked, err := s.MissionNotes(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(linked) != 2 {
		t.Errorf("mission m1 notes = %d, want 2", len(linked))
	}
}
