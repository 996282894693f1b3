// Package memory keeps per-agent memory notes in Neo4j, linked to the
// missions they came from.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/nuka-missions/internal/mission"
	"go.uber.org/zap"
)

// Store handles Neo4j operations for memory notes.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewStore creates a new Neo4j memory store.
func NewStore(uri, user, password string, logger *zap.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraints notes rely on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE CONSTRAINT memory_id IF NOT EXISTS FOR (m:Memory) REQUIRE m.id IS UNIQUE`,
		`CREATE CONSTRAINT mission_id IF NOT EXISTS FOR (ms:Mission) REQUIRE ms.id IS UNIQUE`,
	} {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure memory schema: %w", err)
		}
	}
	return nil
}

// Append creates a :Memory node for the note and links it to its mission.
func (s *Store) Append(ctx context.Context, n *Note) error {
	if n.AgentID == "" {
		return errors.New("memory note without agent")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Importance == 0 {
		n.Importance = DefaultImportance
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`CREATE (m:Memory {
			id: $id, agent_id: $agentId, mission_id: $missionId,
			subtask_id: $subtaskId, label: $label, content: $content,
			importance: $importance, access_count: 0, created_at: $createdAt
		})
		WITH m
		WHERE $missionId <> ''
		MERGE (ms:Mission {id: $missionId})
		ON CREATE SET ms.label = $label
		MERGE (m)-[:PART_OF]->(ms)`,
		map[string]interface{}{
			"id":         n.ID,
			"agentId":    n.AgentID,
			"missionId":  n.MissionID,
			"subtaskId":  n.SubtaskID,
			"label":      n.Label,
			"content":    n.Content,
			"importance": n.Importance,
			"createdAt":  n.CreatedAt,
		})
	if err != nil {
		return fmt.Errorf("append memory note: %w", err)
	}
	s.logger.Debug("memory note stored",
		zap.String("agent", n.AgentID),
		zap.String("mission", n.MissionID),
		zap.String("subtask", n.SubtaskID))
	return nil
}

// AppendNote stores a note written after a successful subtask.
func (s *Store) AppendNote(ctx context.Context, n mission.MemoryNote) error {
	return s.Append(ctx, &Note{
		AgentID:   n.AgentID,
		MissionID: n.MissionID,
		SubtaskID: n.SubtaskID,
		Label:     n.Label,
		Content:   n.Content,
	})
}

// Notes returns an agent's most recent notes, newest first.
func (s *Store) Notes(ctx context.Context, agentID string, limit int) ([]*Note, error) {
	return s.query(ctx,
		`MATCH (m:Memory {agent_id: $key})
		 RETURN m.id, m.agent_id, m.mission_id, m.subtask_id, m.label, m.content, m.importance, m.created_at
		 ORDER BY m.created_at DESC LIMIT $limit`,
		agentID, limit)
}

// MissionNotes returns every note linked to a mission, oldest first.
func (s *Store) MissionNotes(ctx context.Context, missionID string) ([]*Note, error) {
	return s.query(ctx,
		`MATCH (m:Memory)-[:PART_OF]->(:Mission {id: $key})
		 RETURN m.id, m.agent_id, m.mission_id, m.subtask_id, m.label, m.content, m.importance, m.created_at
		 ORDER BY m.created_at ASC LIMIT $limit`,
		missionID, 1000)
}

func (s *Store) query(ctx context.Context, cypher, key string, limit int) ([]*Note, error) {
	if limit <= 0 {
		limit = 20
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, map[string]interface{}{"key": key, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("query memory notes: %w", err)
	}

	var notes []*Note
	for result.Next(ctx) {
		vals := result.Record().Values
		n := &Note{}
		n.ID, _ = vals[0].(string)
		n.AgentID, _ = vals[1].(string)
		n.MissionID, _ = vals[2].(string)
		n.SubtaskID, _ = vals[3].(string)
		n.Label, _ = vals[4].(string)
		n.Content, _ = vals[5].(string)
		n.Importance, _ = vals[6].(float64)
		if t, ok := vals[7].(time.Time); ok {
			n.CreatedAt = t
		}
		notes = append(notes, n)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read memory notes: %w", err)
	}
	return notes, nil
}
