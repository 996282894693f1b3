package dailynote

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestAppend(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, time.UTC, zap.NewNop())
	at := time.Date(2026, 5, 4, 14, 7, 0, 0, time.UTC)

	if err := w.Append(context.Background(), at, "Mission \"release\" completed (3 spawns)\n- a [scout] ok\n"); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(context.Background(), at.Add(time.Hour), "Mission \"audit\" failed (1 spawns)"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "2026-05-04.md"))
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{
		"## 14:07 mission \"release\" completed (3 spawns)\n\n- a [scout] ok\n",
		"## 15:07 mission \"audit\" failed (1 spawns)\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("note missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "release") > strings.Index(got, "audit") {
		t.Error("sections out of order")
	}
}

func TestPathUsesLocation(t *testing.T) {
	loc := time.FixedZone("east", 10*3600)
	w := New("/notes", loc, zap.NewNop())
	at := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	if got := w.Path(at); got != filepath.Join("/notes", "2026-01-02.md") {
		t.Errorf("Path = %s", got)
	}
}
