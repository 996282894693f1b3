//go:build e2e

package runs

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/nuka-missions/internal/mission"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return "redis://" + endpoint
}

func TestRedisRegistryRoundTrip(t *testing.T) {
	reg, err := NewRedisRegistry(startRedis(t), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	started := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	if err := reg.Register(ctx, mission.RunRecord{RunID: "r1", SessionKey: "s1", MissionID: "m1", SubtaskID: "a", StartedAt: started}); err != nil {
		t.Fatal(err)
	}

	events := reg.Subscribe(ctx)

	if err := reg.Complete(ctx, "r1", mission.Failure("boom"), time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Complete(ctx, "r1", mission.Succeeded(), time.Now()); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-events:
		if c.RunID != "r1" || c.Outcome.Error != "boom" || c.SessionKey != "s1" {
			t.Errorf("completion = %+v", c)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no completion on stream")
	}
	select {
	case c := <-events:
		t.Errorf("duplicate completion %+v", c)
	case <-time.After(2500 * time.Millisecond):
	}

	rec, ok, err := reg.Get(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if !rec.Ended() || rec.Outcome.Error != "boom" || rec.MissionID != "m1" || !rec.StartedAt.Equal(started) {
		t.Errorf("record = %+v", rec)
	}
}

func TestRedisSubscribeStartsAtStreamTail(t *testing.T) {
	reg, err := NewRedisRegistry(startRedis(t), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range []string{"old", "r1", "r2"} {
		if err := reg.Register(ctx, mission.RunRecord{RunID: id, SessionKey: "s-" + id, StartedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.Complete(ctx, "old", mission.Succeeded(), time.Now()); err != nil {
		t.Fatal(err)
	}

	// Completions published right after Subscribe returns, before the
	// reader goroutine has issued its first XREAD, must still arrive.
	events := reg.Subscribe(ctx)
	if err := reg.Complete(ctx, "r1", mission.Succeeded(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Complete(ctx, "r2", mission.Failure("boom"), time.Now()); err != nil {
		t.Fatal(err)
	}

	var got []string
	for len(got) < 2 {
		select {
		case c := <-events:
			got = append(got, c.RunID)
		case <-time.After(10 * time.Second):
			t.Fatalf("received %v, want [r1 r2]", got)
		}
	}
	if got[0] != "r1" || got[1] != "r2" {
		t.Errorf("received %v, want [r1 r2]", got)
	}
}

func TestRedisSubscribeEmptyStream(t *testing.T) {
	reg, err := NewRedisRegistry(startRedis(t), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if tail := reg.streamTail(ctx); tail != "0-0" {
		t.Fatalf("tail of missing stream = %q, want 0-0", tail)
	}
	events := reg.Subscribe(ctx)
	if err := reg.Register(ctx, mission.RunRecord{RunID: "first", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Complete(ctx, "first", mission.Succeeded(), time.Now()); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-events:
		if c.RunID != "first" {
			t.Errorf("completion = %+v", c)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("first completion on a new stream was dropped")
	}
}
