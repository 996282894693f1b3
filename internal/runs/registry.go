// Package runs tracks worker runs and fans out their completions.
package runs

import (
	"context"
	"time"

	"github.com/nidhogg/nuka-missions/internal/mission"
)

// Registry is a run registry that also accepts completion reports and
// streams them to subscribers. Complete is first-wins per run id.
type Registry interface {
	mission.RunRegistry
	Complete(ctx context.Context, runID string, outcome mission.Outcome, endedAt time.Time) error
	// Subscribe delivers completions reported after the call until ctx is done.
	Subscribe(ctx context.Context) <-chan mission.RunCompletion
}

const subscriberBuffer = 64
