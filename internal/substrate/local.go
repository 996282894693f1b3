package substrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-missions/internal/mission"
	"github.com/nidhogg/nuka-missions/internal/runs"
	"github.com/nidhogg/nuka-missions/internal/transcript"
	"github.com/nidhogg/nuka-missions/internal/worker"
	"go.uber.org/zap"
)

// ErrClosed is returned by SpawnRun after Close.
var ErrClosed = errors.New("substrate closed")

// Local runs agents in-process on a bounded pool. SpawnRun never waits for
// a free slot; queued runs start as earlier ones finish.
type Local struct {
	executor   worker.Executor
	registry   runs.Registry
	log        transcript.Log
	summarizer *transcript.Summarizer
	slots      chan struct{}
	runTimeout time.Duration
	logger     *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewLocal creates a pool of size workers.
func NewLocal(executor worker.Executor, registry runs.Registry, log transcript.Log, size int, runTimeout time.Duration, logger *zap.Logger) *Local {
	if size <= 0 {
		size = 4
	}
	if runTimeout <= 0 {
		runTimeout = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Local{
		executor:   executor,
		registry:   registry,
		log:        log,
		summarizer: transcript.NewSummarizer(log),
		slots:      make(chan struct{}, size),
		runTimeout: runTimeout,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SpawnRun queues the job and returns its run id immediately.
func (l *Local) SpawnRun(_ context.Context, req mission.SpawnRequest) (mission.SpawnResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return mission.SpawnResult{}, ErrClosed
	}

	runID := "run-" + uuid.New().String()
	l.wg.Add(1)
	go l.run(runID, req)
	return mission.SpawnResult{RunID: runID}, nil
}

func (l *Local) run(runID string, req mission.SpawnRequest) {
	defer l.wg.Done()

	select {
	case l.slots <- struct{}{}:
	case <-l.ctx.Done():
		l.finish(runID, mission.Failure("substrate shut down before run started"))
		return
	}
	defer func() { <-l.slots }()

	ctx, cancel := context.WithTimeout(l.ctx, l.runTimeout)
	defer cancel()

	if err := l.log.Append(ctx, req.SessionKey, transcript.Message{Role: transcript.RoleUser, Content: req.Message}); err != nil {
		l.logger.Warn("append transcript failed", zap.String("session", req.SessionKey), zap.Error(err))
	}

	reply, err := l.executor.Execute(ctx, worker.Job{
		AgentID:    req.AgentID,
		SessionKey: req.SessionKey,
		Message:    req.Message,
	})
	if err != nil {
		l.logger.Warn("agent run failed",
			zap.String("run", runID),
			zap.String("agent", req.AgentID),
			zap.Error(err))
		l.finish(runID, mission.Failure(err.Error()))
		return
	}

	if err := l.log.Append(ctx, req.SessionKey, transcript.Message{Role: transcript.RoleAssistant, Content: reply.Text}); err != nil {
		l.logger.Warn("append transcript failed", zap.String("session", req.SessionKey), zap.Error(err))
	}
	l.logger.Debug("agent run finished",
		zap.String("run", runID),
		zap.String("agent", req.AgentID),
		zap.Int("output_tokens", reply.Usage.OutputTokens))
	l.finish(runID, mission.Succeeded())
}

func (l *Local) finish(runID string, outcome mission.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.registry.Complete(ctx, runID, outcome, time.Now()); err != nil {
		l.logger.Warn("report completion failed", zap.String("run", runID), zap.Error(err))
	}
}

// LatestReply returns the session's last assistant message.
func (l *Local) LatestReply(ctx context.Context, sessionKey string) (string, error) {
	text, err := l.summarizer.LastReply(ctx, sessionKey)
	if err != nil {
		return "", fmt.Errorf("latest reply: %w", err)
	}
	return text, nil
}

// Close stops accepting runs, cancels in-flight ones and waits for them.
func (l *Local) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
	l.wg.Wait()
}
