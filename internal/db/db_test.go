package db

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNew_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"runs", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_InMemory(t *testing.T) {
	for _, path := range []string{"", MemoryPath} {
		database, err := New(path, nil)
		if err != nil {
			t.Fatalf("New(%q) error = %v", path, err)
		}

		if _, err := database.Conn().Exec(
			`INSERT INTO runs (id, created_at, updated_at) VALUES ('r1', datetime('now'), datetime('now'))`,
		); err != nil {
			t.Fatalf("insert error = %v", err)
		}
		var count int
		if err := database.Conn().QueryRow("SELECT COUNT(*) FROM runs").Scan(&count); err != nil {
			t.Fatalf("count error = %v", err)
		}
		if count != 1 {
			t.Errorf("count = %d, want 1", count)
		}
		if err := database.Ping(context.Background()); err != nil {
			t.Errorf("Ping() error = %v", err)
		}
		database.Close()
	}
}

func TestNew_WALEnabled(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var journalMode string
	err = database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}

	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var count int
	err = db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count)
	if err != nil {
		t.Fatalf("count migrations error = %v", err)
	}

	if count != 2 {
		t.Errorf("migration count = %d, want 2", count)
	}
}

func TestMarkInterruptedRuns(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = db1.Conn().Exec(`
		INSERT INTO runs (id, status, stage, created_at, updated_at)
		VALUES ('test-run', 'running', 'normalizing', datetime('now'), datetime('now'))
	`)
	if err != nil {
		t.Fatalf("insert run error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var status, errMsg string
	err = db2.Conn().QueryRow("SELECT status, error FROM runs WHERE id = 'test-run'").Scan(&status, &errMsg)
	if err != nil {
		t.Fatalf("query run error = %v", err)
	}

	if status != "failed" {
		t.Errorf("run status = %s, want failed", status)
	}
	if errMsg != "interrupted by restart" {
		t.Errorf("run error = %s, want 'interrupted by restart'", errMsg)
	}
}
