package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestNewDoesNotCreateTables(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer func() {
		_ = store.Close()
	}()

	tables, err := store.Handle().ListObjects(ctx, "table")
	if err != nil {
		t.Fatalf("ListObjects(table): %v", err)
	}
	if len(tables) != 0 {
		t.Fatalf("tables after New() = %+v, want none", tables)
	}
}

func TestRecordAndListRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer func() {
		_ = store.Close()
	}()

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() before first run: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("len(runs) before first run = %d, want 0", len(runs))
	}

	base := time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC)
	counter := 0
	store.now = func() time.Time {
		counter++
		return base.Add(time.Duration(counter) * time.Second)
	}

	first, err := store.RecordRun(ctx, RecordRunParams{
		SchemaName: "app",
		Behavior:   "safe-upgrades",
		Attempts:   1,
		Applied:    3,
		StartedAt:  base,
	})
	if err != nil {
		t.Fatalf("RecordRun(first): %v", err)
	}
	if _, err := store.RecordRun(ctx, RecordRunParams{
		SchemaName: "app",
		Behavior:   "full-destructive-updates",
		Attempts:   2,
		Skipped:    1,
		Warnings:   1,
	}); err != nil {
		t.Fatalf("RecordRun(second): %v", err)
	}

	runs, err = store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns(): %v", err)
	}
	if got, want := len(runs), 2; got != want {
		t.Fatalf("len(runs) = %d, want %d", got, want)
	}
	if runs[0].Behavior != "full-destructive-updates" {
		t.Fatalf("runs[0].behavior = %q, want newest run first", runs[0].Behavior)
	}
	if runs[1].RunID != first.RunID {
		t.Fatalf("runs[1].run_id = %d, want %d", runs[1].RunID, first.RunID)
	}
	if !runs[1].StartedAt.Equal(base) {
		t.Fatalf("runs[1].started_at = %s, want %s", runs[1].StartedAt, base)
	}
	if !runs[1].FinishedAt.Equal(base.Add(time.Second)) {
		t.Fatalf("runs[1].finished_at = %s, want %s", runs[1].FinishedAt, base.Add(time.Second))
	}
	if !runs[0].StartedAt.Equal(runs[0].FinishedAt) {
		t.Fatalf("zero StartedAt should default to finished_at, got %s vs %s", runs[0].StartedAt, runs[0].FinishedAt)
	}

	limited, err := store.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListRuns(1): %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("len(ListRuns(1)) = %d, want 1", len(limited))
	}

	if _, err := store.RecordRun(ctx, RecordRunParams{SchemaName: "app"}); err == nil {
		t.Fatalf("RecordRun() without behavior should fail")
	}
}

func TestHandleQueries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer func() {
		_ = store.Close()
	}()
	h := store.Handle()

	mustRun(t, h, `CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL, data BLOB)`)
	mustRun(t, h, `CREATE INDEX idx_notes_body ON notes(body)`)
	mustRun(t, h, `INSERT INTO notes (body, data) VALUES (?, ?), (?, ?)`, "a", []byte("x"), "b", nil)

	row, err := h.Get(ctx, `SELECT body, data FROM notes WHERE id = ?`, 1)
	if err != nil {
		t.Fatalf("Get(): %v", err)
	}
	if row["body"] != "a" || row["data"] != "x" {
		t.Fatalf("Get() row = %#v, want body=a data=x", row)
	}

	if _, err := h.Get(ctx, `SELECT body FROM notes WHERE id = ?`, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	rows, err := h.List(ctx, `SELECT body FROM notes ORDER BY id`)
	if err != nil {
		t.Fatalf("List(): %v", err)
	}
	if len(rows) != 2 || rows[1]["body"] != "b" {
		t.Fatalf("List() = %#v, want two rows ending in b", rows)
	}

	count, err := h.CountRows(ctx, "notes")
	if err != nil {
		t.Fatalf("CountRows(): %v", err)
	}
	if count != 2 {
		t.Fatalf("CountRows() = %d, want 2", count)
	}

	columns, err := h.TableColumns(ctx, "notes")
	if err != nil {
		t.Fatalf("TableColumns(): %v", err)
	}
	if want := []string{"id", "body", "data"}; !reflect.DeepEqual(columns, want) {
		t.Fatalf("TableColumns() = %#v, want %#v", columns, want)
	}

	entries, err := h.FindObject(ctx, "idx_notes_body")
	if err != nil {
		t.Fatalf("FindObject(): %v", err)
	}
	if len(entries) != 1 || entries[0].Type != "index" || entries[0].TableName != "notes" {
		t.Fatalf("FindObject() = %+v, want one index on notes", entries)
	}
	if !strings.HasPrefix(entries[0].SQL, "CREATE INDEX") {
		t.Fatalf("FindObject().SQL = %q, want CREATE INDEX text", entries[0].SQL)
	}

	upper, err := h.FindObject(ctx, "NOTES")
	if err != nil {
		t.Fatalf("FindObject(NOTES): %v", err)
	}
	if len(upper) != 1 || upper[0].Name != "notes" || upper[0].Type != "table" {
		t.Fatalf("FindObject(NOTES) = %+v, want the notes table", upper)
	}

	if _, err := h.Run(ctx, `INSERT INTO notes (body) VALUES (NULL)`); err == nil {
		t.Fatalf("Run() violating NOT NULL should fail")
	} else if !strings.Contains(err.Error(), "NOT NULL") {
		t.Fatalf("Run() error = %v, want driver message preserved", err)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer func() {
		_ = store.Close()
	}()
	h := store.Handle()
	mustRun(t, h, `CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)

	boom := errors.New("boom")
	err := h.Transaction(ctx, TxOptions{}, func(tx Handle) error {
		if _, err := tx.Run(ctx, `INSERT INTO kv (k, v) VALUES ('a', '1')`); err != nil {
			return err
		}
		return tx.Transaction(ctx, TxOptions{}, func(inner Handle) error {
			if _, err := inner.Run(ctx, `INSERT INTO kv (k, v) VALUES ('b', '2')`); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Transaction() error = %v, want boom", err)
	}
	if got := countRows(t, store.db, "kv"); got != 0 {
		t.Fatalf("kv rows after rollback = %d, want 0", got)
	}

	if err := h.Transaction(ctx, TxOptions{}, func(tx Handle) error {
		_, err := tx.Run(ctx, `INSERT INTO kv (k, v) VALUES ('a', '1')`)
		return err
	}); err != nil {
		t.Fatalf("Transaction() commit: %v", err)
	}
	if got := countRows(t, store.db, "kv"); got != 1 {
		t.Fatalf("kv rows after commit = %d, want 1", got)
	}
}

func TestTransactionDisablesForeignKeys(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer func() {
		_ = store.Close()
	}()
	h := store.Handle()
	mustRun(t, h, `CREATE TABLE parents (id INTEGER PRIMARY KEY)`)
	mustRun(t, h, `CREATE TABLE children (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parents(id))`)

	if _, err := h.Run(ctx, `INSERT INTO children (parent_id) VALUES (42)`); err == nil {
		t.Fatalf("insert orphan child with foreign keys on should fail")
	}

	err := h.Transaction(ctx, TxOptions{DisableForeignKeys: true}, func(tx Handle) error {
		_, err := tx.Run(ctx, `INSERT INTO children (parent_id) VALUES (42)`)
		return err
	})
	if err != nil {
		t.Fatalf("Transaction(DisableForeignKeys): %v", err)
	}

	rows, err := h.Pragma(ctx, "foreign_keys")
	if err != nil {
		t.Fatalf("Pragma(foreign_keys): %v", err)
	}
	if len(rows) != 1 || fmt.Sprint(rows[0]["foreign_keys"]) != "1" {
		t.Fatalf("foreign_keys after transaction = %#v, want 1", rows)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "schema.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("New(%q): %v", dbPath, err)
	}
	return store
}

func mustRun(t *testing.T, h Handle, query string, args ...any) {
	t.Helper()

	if _, err := h.Run(context.Background(), query, args...); err != nil {
		t.Fatalf("Run(%q): %v", query, err)
	}
}

func countRows(t *testing.T, db *sql.DB, tableName string) int {
	t.Helper()

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", tableName)
	var count int
	if err := db.QueryRow(query).Scan(&count); err != nil {
		t.Fatalf("count rows from %s: %v", tableName, err)
	}
	return count
}
