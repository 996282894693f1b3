package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/nuka-missions/internal/mission"
)

// SaveMissions upserts every mission snapshot in a single transaction.
func (s *Store) SaveMissions(ctx context.Context, missions map[string]*mission.Mission) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save missions: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	batch := &pgx.Batch{}
	for _, m := range missions {
		snapshot, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal mission %s: %w", m.ID, err)
		}
		batch.Queue(`
			INSERT INTO missions (id, label, status, snapshot, created_at, completed_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				label = EXCLUDED.label,
				status = EXCLUDED.status,
				snapshot = EXCLUDED.snapshot,
				completed_at = EXCLUDED.completed_at,
				updated_at = EXCLUDED.updated_at`,
			m.ID, m.Label, string(m.Status), snapshot, m.CreatedAt, m.CompletedAt, now,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save missions: %w", err)
	}
	return tx.Commit(ctx)
}

// LoadMissions returns every stored mission keyed by id.
func (s *Store) LoadMissions(ctx context.Context) (map[string]*mission.Mission, error) {
	rows, err := s.db.Query(ctx, `SELECT id, snapshot FROM missions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("load missions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*mission.Mission)
	for rows.Next() {
		var id string
		var snapshot []byte
		if err := rows.Scan(&id, &snapshot); err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		var m mission.Mission
		if err := json.Unmarshal(snapshot, &m); err != nil {
			s.logger.Warn("skipping unreadable mission snapshot")
			continue
		}
		out[id] = &m
	}
	return out, rows.Err()
}

// Persister adapts the store to the orchestrator's persistence contract.
func (s *Store) Persister() mission.Persister {
	return missionPersister{s}
}

type missionPersister struct{ s *Store }

func (p missionPersister) Save(ctx context.Context, missions map[string]*mission.Mission) error {
	return p.s.SaveMissions(ctx, missions)
}

func (p missionPersister) Load(ctx context.Context) (map[string]*mission.Mission, error) {
	return p.s.LoadMissions(ctx)
}
