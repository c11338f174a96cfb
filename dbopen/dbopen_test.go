package dbopen

import (
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestOpenAppliesPragmas(t *testing.T) {
	db := OpenMemory(t)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys: got %d, want 1", fk)
	}

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatal(err)
	}
	if timeout != 10_000 {
		t.Errorf("busy_timeout: got %d, want 10000", timeout)
	}
}

func TestWithSchema(t *testing.T) {
	db := OpenMemory(t, WithSchema(`CREATE TABLE exports (id TEXT PRIMARY KEY)`))

	if _, err := db.Exec(`INSERT INTO exports (id) VALUES ('x')`); err != nil {
		t.Fatalf("schema not applied: %v", err)
	}
}

func TestWithMkdirAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "index.db")
	db, err := Open(path, WithMkdirAll())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Fatal(err)
	}
}

func TestBadSchemaFailsOpen(t *testing.T) {
	if _, err := Open(":memory:", WithSchema("NOT SQL")); err == nil {
		t.Fatal("invalid schema accepted")
	}
}
