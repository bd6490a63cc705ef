package db

import (
	"path/filepath"
	"testing"
)

func TestMigrateSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	d, err := NewDatabase(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if d.Path() != path {
		t.Errorf("Path = %q, want %q", d.Path(), path)
	}

	steps := []string{
		"CREATE TABLE a (id INTEGER)",
		"CREATE TABLE b (id INTEGER)",
	}
	if v, err := d.Migrate(steps[:1]); err != nil || v != 1 {
		t.Fatalf("first migrate: v=%d err=%v", v, err)
	}
	if v, err := d.Migrate(steps); err != nil || v != 2 {
		t.Fatalf("second migrate: v=%d err=%v", v, err)
	}
	// Already current: nothing reruns, so CREATE TABLE does not fail.
	if v, err := d.Migrate(steps); err != nil || v != 2 {
		t.Fatalf("rerun: v=%d err=%v", v, err)
	}

	broken := append(steps, "CREATE TABLE a (id INTEGER)")
	if _, err := d.Migrate(broken); err == nil {
		t.Error("expected failing step to return an error")
	}
	if v, _ := d.SchemaVersion(); v != 2 {
		t.Errorf("version after failed step = %d, want 2", v)
	}

	if _, err := d.Migrate(steps[:1]); err == nil {
		t.Error("expected error for a database newer than the known schema")
	}
}

func TestHistorySchemaVersion(t *testing.T) {
	hs, path := openStore(t)
	v, err := hs.db.SchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if v != len(historySchema) {
		t.Errorf("version = %d, want %d", v, len(historySchema))
	}

	hs.Close()
	reopened, err := NewHistoryStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	reopened.Close()
}
