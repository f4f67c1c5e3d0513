package drift

import (
	"reflect"
	"testing"

	"github.com/beyond5959/go-schema-sync/internal/sqlparse"
)

func TestIsDestructiveDependsOnKindOnly(t *testing.T) {
	want := map[Kind]bool{
		NeedToCreateTable:  false,
		NeedToAddColumn:    false,
		NeedToCreateIndex:  false,
		NeedToDeleteColumn: true,
		NeedToModifyColumn: true,
		NeedToRebuildTable: true,
		NeedToDeleteIndex:  true,
		ExtraTable:         true,
	}
	if len(want) != len(Kinds) {
		t.Fatalf("classification table covers %d kinds, Kinds has %d", len(want), len(Kinds))
	}

	payloads := []Drift{
		{},
		{TableName: "users", ColumnName: "name", NewDefinition: "TEXT NOT NULL", Warning: "w"},
		{IndexName: "idx", OldDefinition: "CREATE INDEX idx ON t(a)"},
	}
	for _, kind := range Kinds {
		for _, payload := range payloads {
			payload.Kind = kind
			if got := IsDestructive(payload); got != want[kind] {
				t.Fatalf("IsDestructive(%+v) = %v, want %v", payload, got, want[kind])
			}
		}
	}

	if !IsDestructive(Drift{Kind: Kind("something_new")}) {
		t.Fatalf("unknown kinds must be treated as destructive")
	}
}

func TestDatabaseDriftOrdering(t *testing.T) {
	dd := newDatabaseDrift()
	dd.add(SchemaKey, Drift{Kind: NeedToCreateIndex, IndexName: "idx_b"})
	dd.add("b", Drift{Kind: NeedToCreateTable, TableName: "b"})
	dd.add("a", Drift{Kind: NeedToAddColumn, TableName: "a", ColumnName: "x"})
	dd.add("empty")
	dd.Tables["z"] = TableDrift{{Kind: NeedToDeleteColumn, TableName: "z", ColumnName: "y"}}

	var keys []string
	dd.Each(func(key string, _ Drift) {
		keys = append(keys, key)
	})
	if want := []string{"b", "a", "z", SchemaKey}; !reflect.DeepEqual(keys, want) {
		t.Fatalf("Each() keys = %#v, want %#v", keys, want)
	}

	safe, destructive := dd.Count()
	if safe != 3 || destructive != 1 {
		t.Fatalf("Count() = (%d, %d), want (3, 1)", safe, destructive)
	}
	if dd.Empty() {
		t.Fatalf("Empty() = true, want false")
	}
	if !newDatabaseDrift().Empty() {
		t.Fatalf("Empty() on fresh drift = false, want true")
	}
}

func TestParseSchemaLastWriteWins(t *testing.T) {
	parsed, err := ParseSchema(DatabaseSchema{
		Name: "app",
		Statements: []string{
			`PRAGMA journal_mode = WAL`,
			`CREATE TABLE users (id INTEGER PRIMARY KEY)`,
			`CREATE TABLE posts (id INTEGER PRIMARY KEY)`,
			`CREATE INDEX idx_posts ON posts(id)`,
			`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)`,
		},
		InitialData: []string{
			`INSERT INTO users (id, name) VALUES (1, 'root')`,
		},
	})
	if err != nil {
		t.Fatalf("ParseSchema(): %v", err)
	}
	if want := []string{"users", "posts"}; !reflect.DeepEqual(parsed.TableOrder, want) {
		t.Fatalf("TableOrder = %#v, want %#v", parsed.TableOrder, want)
	}
	if got := parsed.Tables["users"].Stmt.ColumnNames(); !reflect.DeepEqual(got, []string{"id", "name"}) {
		t.Fatalf("users columns = %#v, want the later declaration", got)
	}
	if len(parsed.Pragmas) != 1 || len(parsed.Seeds) != 1 || len(parsed.IndexOrder) != 1 {
		t.Fatalf("parsed = %+v, want 1 pragma, 1 seed, 1 index", parsed)
	}
}

func TestParseSchemaErrors(t *testing.T) {
	tests := []DatabaseSchema{
		{Statements: []string{`DROP TABLE users`}},
		{Statements: []string{`INSERT INTO users (id) VALUES (1)`}},
		{InitialData: []string{`CREATE TABLE users (id INTEGER)`}},
		{InitialData: []string{`INSERT INTO`}},
	}
	for _, schema := range tests {
		if _, err := ParseSchema(schema); err == nil {
			t.Fatalf("ParseSchema(%+v) succeeded, want error", schema)
		}
	}
}

func mustTable(t *testing.T, sql string) *sqlparse.CreateTable {
	t.Helper()

	stmt, err := sqlparse.Parse(sql)
	if err != nil {
		t.Fatalf("Parse(%q): %v", sql, err)
	}
	table, ok := stmt.(*sqlparse.CreateTable)
	if !ok {
		t.Fatalf("Parse(%q) = %T, want *CreateTable", sql, stmt)
	}
	return table
}
