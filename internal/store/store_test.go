package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"sync_run", "pending_item", "server_knowledge"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

// Schema tests

func TestSchema_Columns(t *testing.T) {
	s := createTestStore(t)

	tables := map[string][]string{
		"sync_run": {
			"id", "budget_id", "status", "started_at", "completed_at",
			"items_processed", "items_failed", "error_message",
		},
		"pending_item": {
			"id", "sync_run_id", "item_type", "action", "payload", "status",
			"error_message", "retry_count", "created_at", "updated_at",
		},
		"server_knowledge": {
			"budget_id", "transaction_cursor", "category_cursor", "last_sync_time",
		},
	}

	for table, expected := range tables {
		columns := getTableColumns(t, s.db, table)
		for _, col := range expected {
			if !slices.Contains(columns, col) {
				t.Errorf("%s table missing column %q", table, col)
			}
		}
	}
}

func TestSchema_Indexes(t *testing.T) {
	s := createTestStore(t)

	expected := map[string][]string{
		"sync_run":         {"idx_sync_run_status", "idx_sync_run_started_at"},
		"pending_item":     {"idx_pending_item_run", "idx_pending_item_status", "idx_pending_item_status_retry"},
		"server_knowledge": {"idx_server_knowledge_last_sync"},
	}

	for table, want := range expected {
		indexes := getTableIndexes(t, s.db, table)
		for _, idx := range want {
			if !slices.Contains(indexes, idx) {
				t.Errorf("%s table missing index %q", table, idx)
			}
		}
	}
}

// Constraint tests

func TestConstraint_StatusCheck(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO sync_run (id, status, started_at) VALUES ('r1', 'running', '2026-01-01T00:00:00.000000000Z')
	`)
	if err == nil {
		t.Error("expected CHECK constraint to reject unknown run status")
	}
}

func TestConstraint_PendingItemRequiresRun(t *testing.T) {
	s := createTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO pending_item (id, sync_run_id, item_type, action, payload, created_at, updated_at)
		VALUES ('i1', 'missing', 'transaction', 'create', '{}', 'x', 'x')
	`)
	if err == nil {
		t.Error("expected foreign key constraint to reject orphan item")
	}
}

func TestConstraint_CascadeDelete(t *testing.T) {
	s := createTestStore(t)

	stmts := []string{
		`INSERT INTO sync_run (id, status, started_at) VALUES ('r1', 'completed', '2026-01-01T00:00:00.000000000Z')`,
		`INSERT INTO pending_item (id, sync_run_id, item_type, action, payload, created_at, updated_at)
		 VALUES ('i1', 'r1', 'transaction', 'create', '{}', 'x', 'x')`,
		`DELETE FROM sync_run WHERE id = 'r1'`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			t.Fatalf("exec failed: %v", err)
		}
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pending_item").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("pending_item rows = %d after run delete, want 0", count)
	}
}

// Migration tests

func TestMigration_SchemaVersion(t *testing.T) {
	s := createTestStore(t)

	version, err := s.schemaVersion()
	if err != nil {
		t.Fatalf("schemaVersion() failed: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_UpgradeFromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	// Simulate a database created before the requeue index existed.
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	for _, stmt := range []string{
		"DROP INDEX idx_pending_item_status_retry",
		"PRAGMA user_version = 0",
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			t.Fatalf("exec %q failed: %v", stmt, err)
		}
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	version, err := s2.schemaVersion()
	if err != nil {
		t.Fatalf("schemaVersion() failed: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("schema version after upgrade = %d, want %d", version, currentSchemaVersion)
	}
	if !slices.Contains(getTableIndexes(t, s2.db, "pending_item"), "idx_pending_item_status_retry") {
		t.Error("migration did not recreate idx_pending_item_status_retry")
	}
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}
