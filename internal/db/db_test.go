package db

import (
	"testing"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	path := t.TempDir() + "/test.db"

	database, err := NewDB(path)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// TestPragmasApplied verifies that essential PRAGMAs are set on all databases
func TestPragmasApplied(t *testing.T) {
	database := setupTestDB(t)

	var journalMode string
	if err := database.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := database.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var foreignKeys int
	if err := database.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Failed to query foreign_keys: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", foreignKeys)
	}
}

func TestNewDBAppliesAllMigrations(t *testing.T) {
	database := setupTestDB(t)

	fsys, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS: %v", err)
	}

	version, dirty, err := database.MigrateVersion(fsys)
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if dirty {
		t.Error("fresh database is dirty")
	}

	latest, err := GetLatestMigrationVersion(fsys)
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion: %v", err)
	}
	if version != latest {
		t.Errorf("version after NewDB = %d, want latest %d", version, latest)
	}

	// All tables from the migrations should exist.
	for _, table := range []string{"gps_points", "analysis_runs", "proximity_events", "encounters", "encounter_members"} {
		var count int
		err := database.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s missing after migrations", table)
		}
	}
}

func TestMigrateDownRollsBack(t *testing.T) {
	database := setupTestDB(t)

	fsys, err := getMigrationsFS()
	if err != nil {
		t.Fatalf("getMigrationsFS: %v", err)
	}
	latest, err := GetLatestMigrationVersion(fsys)
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion: %v", err)
	}

	if err := database.MigrateDown(fsys); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	version, _, err := database.MigrateVersion(fsys)
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != latest-1 {
		t.Errorf("version after down = %d, want %d", version, latest-1)
	}

	if err := database.MigrateUp(fsys); err != nil {
		t.Fatalf("MigrateUp after down: %v", err)
	}
}

func TestNewDBWithMigrationCheck(t *testing.T) {
	path := t.TempDir() + "/check.db"

	// Opening an unmigrated database without auto-migrate must refuse.
	if database, err := NewDBWithMigrationCheck(path, false); err == nil {
		database.Close()
		t.Fatal("expected error for unmigrated database")
	}

	// Migrate it, then the check passes.
	database, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	database.Close()

	database, err = NewDBWithMigrationCheck(path, false)
	if err != nil {
		t.Fatalf("NewDBWithMigrationCheck on migrated db: %v", err)
	}
	database.Close()
}
