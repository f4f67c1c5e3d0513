package drift

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beyond5959/go-schema-sync/internal/storage"
)

type fakeCatalog struct {
	entries []storage.CatalogEntry
	err     error
	lookups int
}

func (c *fakeCatalog) FindObject(_ context.Context, name string) ([]storage.CatalogEntry, error) {
	c.lookups++
	if c.err != nil {
		return nil, c.err
	}
	out := make([]storage.CatalogEntry, 0)
	for _, e := range c.entries {
		if strings.EqualFold(e.Name, name) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *fakeCatalog) ListObjects(_ context.Context, objType string) ([]storage.CatalogEntry, error) {
	if c.err != nil {
		return nil, c.err
	}
	out := make([]storage.CatalogEntry, 0)
	for _, e := range c.entries {
		if e.Type == objType {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestDetectAgainstFakeCatalog(t *testing.T) {
	catalog := &fakeCatalog{entries: []storage.CatalogEntry{
		{Name: "users", Type: "table", TableName: "users", SQL: `CREATE TABLE users (id INTEGER PRIMARY KEY)`},
		{Name: "legacy_cache", Type: "table", TableName: "legacy_cache", SQL: `CREATE TABLE legacy_cache (k TEXT)`},
		{Name: "sqlite_sequence", Type: "table", TableName: "sqlite_sequence", SQL: `CREATE TABLE sqlite_sequence(name,seq)`},
		{Name: "_litestream_seq", Type: "table", TableName: "_litestream_seq", SQL: `CREATE TABLE _litestream_seq (id INTEGER)`},
		{Name: storage.RunLogTable, Type: "table", TableName: storage.RunLogTable, SQL: `CREATE TABLE schema_migration_runs (run_id INTEGER)`},
		{Name: "idx_legacy", Type: "index", TableName: "legacy_cache", SQL: `CREATE INDEX idx_legacy ON legacy_cache(k)`},
		{Name: "idx_users_old", Type: "index", TableName: "users", SQL: `CREATE INDEX idx_users_old ON users(id)`},
		{Name: "sqlite_autoindex_users_1", Type: "index", TableName: "users"},
	}}
	schema := mustSchema(t, DatabaseSchema{
		Name: "app",
		Statements: []string{
			`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`,
			`CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER)`,
			`CREATE INDEX idx_posts_user ON posts(user_id)`,
		},
	})

	dd, err := Detect(context.Background(), catalog, schema)
	if err != nil {
		t.Fatalf("Detect(): %v", err)
	}

	all := dd.All()
	var got []string
	for _, d := range all {
		got = append(got, d.String())
	}
	want := []string{
		"need_to_add_column users.name",
		"need_to_create_table posts",
		"extra_table legacy_cache",
		"need_to_create_index idx_posts_user",
		"need_to_delete_index idx_users_old",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("Detect() drifts = %v, want %v", got, want)
	}

	if len(dd.Warnings) != 2 {
		t.Fatalf("Warnings = %#v, want 2", dd.Warnings)
	}
	if !strings.Contains(dd.Warnings[0], "legacy_cache") || !strings.Contains(dd.Warnings[0], "not part of the app schema") {
		t.Fatalf("Warnings[0] = %q, want extra table warning for legacy_cache", dd.Warnings[0])
	}
}

func TestDetectMatchesNamesIgnoringCase(t *testing.T) {
	catalog := &fakeCatalog{entries: []storage.CatalogEntry{
		{Name: "users", Type: "table", SQL: `CREATE TABLE users (id INTEGER PRIMARY KEY)`, TableName: "users"},
		{Name: "IDX_USERS_ID", Type: "index", SQL: `CREATE INDEX IDX_USERS_ID ON users(id)`, TableName: "users"},
	}}
	schema := mustSchema(t, DatabaseSchema{Statements: []string{
		`CREATE TABLE Users (id INTEGER PRIMARY KEY)`,
		`CREATE INDEX idx_users_id ON Users(id)`,
	}})

	dd, err := Detect(context.Background(), catalog, schema)
	if err != nil {
		t.Fatalf("Detect(): %v", err)
	}
	if !dd.Empty() || len(dd.Warnings) != 0 {
		t.Fatalf("Detect() = %+v, warnings %#v, want no drift", dd.All(), dd.Warnings)
	}
	if !schema.Declares("USERS") || !schema.DeclaresIndex("Idx_Users_Id") || schema.Declares("posts") {
		t.Fatalf("Declares/DeclaresIndex do not ignore case")
	}
}

func TestDetectPropagatesCatalogErrors(t *testing.T) {
	boom := errors.New("disk I/O error")
	schema := mustSchema(t, DatabaseSchema{Statements: []string{`CREATE TABLE users (id INTEGER)`}})

	_, err := Detect(context.Background(), &fakeCatalog{err: boom}, schema)
	if !errors.Is(err, boom) {
		t.Fatalf("Detect() error = %v, want wrapped catalog error", err)
	}
}

func TestDetectRejectsNameUsedByOtherObjectType(t *testing.T) {
	catalog := &fakeCatalog{entries: []storage.CatalogEntry{
		{Name: "users", Type: "view", TableName: "users", SQL: `CREATE VIEW users AS SELECT 1`},
	}}
	schema := mustSchema(t, DatabaseSchema{Statements: []string{`CREATE TABLE users (id INTEGER)`}})

	if _, err := Detect(context.Background(), catalog, schema); err == nil {
		t.Fatalf("Detect() succeeded, want error for view named like a declared table")
	}
}

func TestDetectAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := storage.New(filepath.Join(t.TempDir(), "detect.db"))
	if err != nil {
		t.Fatalf("storage.New(): %v", err)
	}
	defer func() {
		_ = store.Close()
	}()
	h := store.Handle()

	for _, stmt := range []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT UNIQUE)`,
		`ALTER TABLE users ADD COLUMN name TEXT`,
		`CREATE INDEX idx_users_name ON users(name)`,
	} {
		if _, err := h.Run(ctx, stmt); err != nil {
			t.Fatalf("Run(%q): %v", stmt, err)
		}
	}

	schema := mustSchema(t, DatabaseSchema{
		Name: "app",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY,
				email TEXT UNIQUE,
				name TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_users_name ON users(name)`,
		},
	})

	dd, err := Detect(ctx, h, schema)
	if err != nil {
		t.Fatalf("Detect(): %v", err)
	}
	if !dd.Empty() {
		t.Fatalf("Detect() = %+v, want no drift", dd.All())
	}
	if len(dd.Warnings) != 0 {
		t.Fatalf("Warnings = %#v, want none", dd.Warnings)
	}

	tables, err := h.ListObjects(ctx, "table")
	if err != nil {
		t.Fatalf("ListObjects(): %v", err)
	}
	if len(tables) != 1 {
		t.Fatalf("Detect() must not write, tables = %+v", tables)
	}
}

func mustSchema(t *testing.T, schema DatabaseSchema) *ParsedSchema {
	t.Helper()

	parsed, err := ParseSchema(schema)
	if err != nil {
		t.Fatalf("ParseSchema(): %v", err)
	}
	return parsed
}
