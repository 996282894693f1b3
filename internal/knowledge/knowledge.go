// Package knowledge is the cross-run knowledge service: text snippets
// embedded into per-scope vector collections.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	collectionPrefix = "knowledge_"
	defaultDimension = 1024
	defaultScope     = "shared"
)

// Snippet is one search result.
type Snippet struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// Service embeds and stores knowledge, and searches it by scope.
type Service struct {
	embedder Embedder
	vectors  VectorStore
	logger   *zap.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// NewService creates a Service.
func NewService(embedder Embedder, vectors VectorStore, logger *zap.Logger) *Service {
	return &Service{
		embedder: embedder,
		vectors:  vectors,
		logger:   logger,
		ensured:  make(map[string]bool),
	}
}

// Collection maps a scope to its collection name.
func Collection(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = defaultScope
	}
	var b strings.Builder
	b.WriteString(collectionPrefix)
	for _, r := range strings.ToLower(scope) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Search returns up to limit snippets from scope, best first.
func (s *Service) Search(ctx context.Context, query, scope string, limit int) ([]Snippet, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	vec, err := s.embedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.vectors.Search(ctx, Collection(scope), vec, uint64(limit))
	if err != nil {
		return nil, err
	}
	out := make([]Snippet, 0, len(hits))
	for _, h := range hits {
		content := h.Payload["content"]
		if content == "" {
			continue
		}
		meta := make(map[string]string, len(h.Payload))
		for k, v := range h.Payload {
			if k != "content" {
				meta[k] = v
			}
		}
		out = append(out, Snippet{ID: h.ID, Content: content, Score: h.Score, Metadata: meta})
	}
	return out, nil
}

// Write embeds content and stores it in scope's collection, creating the
// collection on first use.
func (s *Service) Write(ctx context.Context, content, scope string, metadata map[string]string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("empty knowledge content")
	}
	vec, err := s.embedOne(ctx, content)
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}

	coll := Collection(scope)
	if err := s.ensure(ctx, coll, len(vec)); err != nil {
		return err
	}

	payload := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		payload[k] = v
	}
	payload["content"] = content
	payload["indexed_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := s.vectors.Upsert(ctx, coll, uuid.New().String(), vec, payload); err != nil {
		return err
	}
	s.logger.Debug("knowledge written", zap.String("collection", coll), zap.Int("bytes", len(content)))
	return nil
}

func (s *Service) ensure(ctx context.Context, coll string, dim int) error {
	s.mu.Lock()
	done := s.ensured[coll]
	s.mu.Unlock()
	if done {
		return nil
	}

	if dim == 0 {
		dim = s.embedder.Dimension()
	}
	if dim == 0 {
		dim = defaultDimension
	}
	if err := s.vectors.EnsureCollection(ctx, coll, uint64(dim)); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	s.mu.Lock()
	s.ensured[coll] = true
	s.mu.Unlock()
	return nil
}

func (s *Service) embedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

// MissionAdapter exposes the service with plain-text search results.
type MissionAdapter struct {
	inner *Service
}

// ForMissions returns an adapter satisfying the orchestrator's knowledge
// interface.
func (s *Service) ForMissions() *MissionAdapter {
	return &MissionAdapter{inner: s}
}

// Search returns snippet contents only.
func (a *MissionAdapter) Search(ctx context.Context, query, scope string, limit int) ([]string, error) {
	snippets, err := a.inner.Search(ctx, query, scope, limit)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(snippets))
	for i, sn := range snippets {
		out[i] = sn.Content
	}
	return out, nil
}

// Write delegates to the service.
func (a *MissionAdapter) Write(ctx context.Context, content, scope string, metadata map[string]string) error {
	return a.inner.Write(ctx, content, scope, metadata)
}
