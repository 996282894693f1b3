package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/nuka-missions/internal/mission"
)

// Record inserts a work-log row.
func (s *Store) Record(ctx context.Context, e mission.WorkLogEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO work_log (id, mission_id, subtask_id, agent_id, kind, started_at, ended_at, duration_ms, status, detail)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.MissionID, e.SubtaskID, e.AgentID, e.Kind,
		e.StartedAt, e.EndedAt, e.EndedAt.Sub(e.StartedAt).Milliseconds(),
		e.Status, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("record work log: %w", err)
	}
	return nil
}

// WorkLog returns a mission's rows, oldest first.
func (s *Store) WorkLog(ctx context.Context, missionID string) ([]mission.WorkLogEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT mission_id, subtask_id, agent_id, kind, started_at, ended_at, status, detail
		FROM work_log
		WHERE mission_id = $1
		ORDER BY started_at ASC`, missionID)
	if err != nil {
		return nil, fmt.Errorf("get work log: %w", err)
	}
	defer rows.Close()

	var out []mission.WorkLogEntry
	for rows.Next() {
		var e mission.WorkLogEntry
		if err := rows.Scan(&e.MissionID, &e.SubtaskID, &e.AgentID, &e.Kind, &e.StartedAt, &e.EndedAt, &e.Status, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan work log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
