package store

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestUpMigrationsSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_board.up.sql", "001_init.up.sql", "001_init.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "003_dir.up.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := upMigrations(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"001_init.up.sql", "002_board.up.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("upMigrations = %v, want %v", got, want)
	}
}

func TestUpMigrationsMissingDir(t *testing.T) {
	if _, err := upMigrations(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
