package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nidhogg/nuka-missions/internal/mission"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	runKeyPrefix    = "nuka:run:"
	completedStream = "nuka:runs:completed"
	runTTL          = 7 * 24 * time.Hour
)

// RedisRegistry keeps run entries in Redis hashes and publishes completions
// on a Redis Stream, so several processes can share one registry.
type RedisRegistry struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisRegistry connects to redisURL.
func NewRedisRegistry(redisURL string, logger *zap.Logger) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisRegistryFromClient(rdb, logger), nil
}

// NewRedisRegistryFromClient wraps an existing client.
func NewRedisRegistryFromClient(rdb *redis.Client, logger *zap.Logger) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, logger: logger}
}

// Client exposes the underlying connection for components sharing it.
func (r *RedisRegistry) Client() *redis.Client { return r.rdb }

func runKey(runID string) string { return runKeyPrefix + runID }

// Register writes the run entry. Fields written by Complete are left alone.
func (r *RedisRegistry) Register(ctx context.Context, rec mission.RunRecord) error {
	key := runKey(rec.RunID)
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, map[string]interface{}{
			"run_id":        rec.RunID,
			"session_key":   rec.SessionKey,
			"requester_key": rec.RequesterKey,
			"mission_id":    rec.MissionID,
			"subtask_id":    rec.SubtaskID,
			"label":         rec.Label,
			"cleanup":       rec.Cleanup,
			"max_retries":   rec.MaxRetries,
			"started_at":    rec.StartedAt.UTC().Format(time.RFC3339Nano),
		})
		p.Expire(ctx, key, runTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("register run %s: %w", rec.RunID, err)
	}
	return nil
}

// Get loads a run entry.
func (r *RedisRegistry) Get(ctx context.Context, runID string) (mission.RunRecord, bool, error) {
	fields, err := r.rdb.HGetAll(ctx, runKey(runID)).Result()
	if err != nil {
		return mission.RunRecord{}, false, fmt.Errorf("get run %s: %w", runID, err)
	}
	if len(fields) == 0 {
		return mission.RunRecord{}, false, nil
	}
	return decodeRecord(runID, fields), true, nil
}

func decodeRecord(runID string, f map[string]string) mission.RunRecord {
	rec := mission.RunRecord{
		RunID:        runID,
		SessionKey:   f["session_key"],
		RequesterKey: f["requester_key"],
		MissionID:    f["mission_id"],
		SubtaskID:    f["subtask_id"],
		Label:        f["label"],
		Cleanup:      f["cleanup"],
	}
	rec.MaxRetries, _ = strconv.Atoi(f["max_retries"])
	if t, err := time.Parse(time.RFC3339Nano, f["started_at"]); err == nil {
		rec.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, f["ended_at"]); err == nil {
		rec.EndedAt = &t
		outcome := mission.Outcome{Status: mission.OutcomeStatus(f["outcome_status"]), Error: f["outcome_error"]}
		rec.Outcome = &outcome
	}
	return rec
}

// Complete records the outcome and appends it to the completion stream.
// The first report for a run wins; later ones are dropped.
func (r *RedisRegistry) Complete(ctx context.Context, runID string, outcome mission.Outcome, endedAt time.Time) error {
	key := runKey(runID)
	first, err := r.rdb.HSetNX(ctx, key, "ended_at", endedAt.UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}
	if !first {
		r.logger.Debug("duplicate completion dropped", zap.String("run", runID))
		return nil
	}

	fields, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if err := r.rdb.HSet(ctx, key, "outcome_status", string(outcome.Status), "outcome_error", outcome.Error).Err(); err != nil {
		return fmt.Errorf("store outcome %s: %w", runID, err)
	}
	r.rdb.Expire(ctx, key, runTTL)

	rec := decodeRecord(runID, fields)
	data, err := json.Marshal(mission.RunCompletion{
		RunID:      runID,
		SessionKey: rec.SessionKey,
		Outcome:    outcome,
		StartedAt:  rec.StartedAt,
		EndedAt:    endedAt,
	})
	if err != nil {
		return err
	}

	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: completedStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish completion %s: %w", runID, err)
	}

	r.logger.Debug("run completed",
		zap.String("run", runID),
		zap.String("status", string(outcome.Status)))
	return nil
}

// Subscribe reads completions appended after the call. The channel closes
// when ctx is done.
func (r *RedisRegistry) Subscribe(ctx context.Context) <-chan mission.RunCompletion {
	ch := make(chan mission.RunCompletion, subscriberBuffer)
	lastID := r.streamTail(ctx)

	go func() {
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := r.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{completedStream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					r.logger.Warn("read completion stream", zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
				}
				continue
			}

			for _, res := range results {
				for _, msg := range res.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var c mission.RunCompletion
					if err := json.Unmarshal([]byte(data), &c); err != nil {
						r.logger.Warn("bad completion payload", zap.String("id", msg.ID), zap.Error(err))
						continue
					}
					select {
					case ch <- c:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// streamTail returns the id of the newest completion entry, or "0-0" when
// the stream is empty. Reading from a concrete id instead of "$" keeps
// entries appended between two blocking reads.
func (r *RedisRegistry) streamTail(ctx context.Context) string {
	msgs, err := r.rdb.XRevRangeN(ctx, completedStream, "+", "-", 1).Result()
	if err != nil {
		r.logger.Warn("resolve completion stream tail, reading new entries only", zap.Error(err))
		return "$"
	}
	if len(msgs) == 0 {
		return "0-0"
	}
	return msgs[0].ID
}

// Close shuts down the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.rdb.Close()
}
