package runs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nidhogg/nuka-missions/internal/mission"
	"go.uber.org/zap"
)

func TestMemoryCompleteFanOutOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := NewMemory(zap.NewNop())
	started := time.Now().Add(-time.Minute)
	if err := reg.Register(ctx, mission.RunRecord{RunID: "r1", SessionKey: "s1", StartedAt: started}); err != nil {
		t.Fatal(err)
	}

	a := reg.Subscribe(ctx)
	b := reg.Subscribe(ctx)

	ended := time.Now()
	if err := reg.Complete(ctx, "r1", mission.Succeeded(), ended); err != nil {
		t.Fatal(err)
	}
	if err := reg.Complete(ctx, "r1", mission.Failure("late"), ended.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	for name, ch := range map[string]<-chan mission.RunCompletion{"a": a, "b": b} {
		select {
		case c := <-ch:
			if c.RunID != "r1" || !c.Outcome.IsOK() || c.SessionKey != "s1" || !c.StartedAt.Equal(started) {
				t.Errorf("%s got %+v", name, c)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no completion", name)
		}
		select {
		case c := <-ch:
			t.Errorf("%s: duplicate completion %+v", name, c)
		default:
		}
	}

	rec, ok, _ := reg.Get(ctx, "r1")
	if !ok || !rec.Ended() || !rec.Outcome.IsOK() {
		t.Errorf("record = %+v", rec)
	}
}

func TestMemoryRegisterKeepsEndedState(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory(zap.NewNop())

	// A fast run can finish before the orchestrator registers it.
	if err := reg.Complete(ctx, "r2", mission.Failure("crashed"), time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, mission.RunRecord{RunID: "r2", MissionID: "m1", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	rec, ok, _ := reg.Get(ctx, "r2")
	if !ok || !rec.Ended() || rec.Outcome.Error != "crashed" || rec.MissionID != "m1" {
		t.Errorf("record = %+v", rec)
	}
	if _, ok, _ := reg.Get(ctx, "missing"); ok {
		t.Error("missing run found")
	}
}

func TestMemoryCancelledSubscriberDoesNotBlock(t *testing.T) {
	reg := NewMemory(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	_ = reg.Subscribe(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			_ = reg.Complete(context.Background(), fmt.Sprintf("run-%d", i), mission.Succeeded(), time.Now())
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Complete blocked on a cancelled subscriber")
	}
}
