// Package board mirrors mission status onto a Redis-backed task board.
package board

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/nidhogg/nuka-missions/internal/mission"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix   = "nuka:board:"
	missionsSet = "nuka:board:missions"
)

// Entry is one board row.
type Entry struct {
	MissionID string               `json:"mission_id"`
	Status    mission.Status       `json:"status"`
	Counts    mission.StatusCounts `json:"counts"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Board writes mission status to Redis hashes.
type Board struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New wraps a Redis client.
func New(rdb *redis.Client, logger *zap.Logger) *Board {
	return &Board{rdb: rdb, logger: logger}
}

// UpdateStatus records the mission's status and subtask counts.
func (b *Board) UpdateStatus(ctx context.Context, missionID string, status mission.Status, counts mission.StatusCounts) error {
	key := keyPrefix + missionID
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, map[string]interface{}{
			"status":     string(status),
			"ok":         counts.OK,
			"error":      counts.Error,
			"skipped":    counts.Skipped,
			"updated_at": time.Now().UTC().Format(time.RFC3339),
		})
		p.SAdd(ctx, missionsSet, missionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update board %s: %w", missionID, err)
	}
	b.logger.Debug("board updated", zap.String("mission", missionID), zap.String("status", string(status)))
	return nil
}

// Get reads one board entry.
func (b *Board) Get(ctx context.Context, missionID string) (Entry, bool, error) {
	fields, err := b.rdb.HGetAll(ctx, keyPrefix+missionID).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("get board %s: %w", missionID, err)
	}
	if len(fields) == 0 {
		return Entry{}, false, nil
	}
	e := Entry{MissionID: missionID, Status: mission.Status(fields["status"])}
	e.Counts.OK, _ = strconv.Atoi(fields["ok"])
	e.Counts.Error, _ = strconv.Atoi(fields["error"])
	e.Counts.Skipped, _ = strconv.Atoi(fields["skipped"])
	e.UpdatedAt, _ = time.Parse(time.RFC3339, fields["updated_at"])
	return e, true, nil
}

// List returns every board entry ordered by mission id.
func (b *Board) List(ctx context.Context) ([]Entry, error) {
	ids, err := b.rdb.SMembers(ctx, missionsSet).Result()
	if err != nil {
		return nil, fmt.Errorf("list board: %w", err)
	}
	sort.Strings(ids)
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, ok, err := b.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}
