package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nidhogg/nuka-missions/internal/mission"
)

// FilePersister keeps mission snapshots in one JSON file, for deployments
// without PostgreSQL. Writes go to a temp file first and are renamed into
// place.
type FilePersister struct {
	path string
	mu   sync.Mutex
}

// NewFilePersister stores state at path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Save writes all missions.
func (p *FilePersister) Save(_ context.Context, missions map[string]*mission.Mission) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := json.MarshalIndent(missions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal missions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Load reads all missions. A missing file is an empty set.
func (p *FilePersister) Load(_ context.Context) (map[string]*mission.Mission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]*mission.Mission{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	out := make(map[string]*mission.Mission)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", p.path, err)
	}
	return out, nil
}
