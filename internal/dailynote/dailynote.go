// Package dailynote appends mission summaries to per-day markdown files.
package dailynote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Writer appends sections to <dir>/<YYYY-MM-DD>.md.
type Writer struct {
	dir    string
	loc    *time.Location
	logger *zap.Logger
	mu     sync.Mutex
}

// New creates a Writer rooted at dir. Dates use loc, or local time when nil.
func New(dir string, loc *time.Location, logger *zap.Logger) *Writer {
	if loc == nil {
		loc = time.Local
	}
	return &Writer{dir: dir, loc: loc, logger: logger}
}

// Path returns the note file for the day containing at.
func (w *Writer) Path(at time.Time) string {
	return filepath.Join(w.dir, at.In(w.loc).Format("2006-01-02")+".md")
}

// Append adds a "## HH:MM mission ..." section. The first line of text
// becomes the heading; the rest is the body.
func (w *Writer) Append(_ context.Context, at time.Time, text string) error {
	heading, body, _ := strings.Cut(strings.TrimSpace(text), "\n")
	heading = strings.TrimPrefix(heading, "Mission ")

	var b strings.Builder
	fmt.Fprintf(&b, "\n## %s mission %s\n", at.In(w.loc).Format("15:04"), heading)
	if body = strings.TrimSpace(body); body != "" {
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create notes dir: %w", err)
	}
	path := w.Path(at)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open daily note: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("append daily note: %w", err)
	}
	w.logger.Debug("daily note appended", zap.String("path", path))
	return nil
}
