package drift

import (
	"fmt"
	"strings"

	"github.com/beyond5959/go-schema-sync/internal/sqlparse"
)

// DatabaseSchema is a declared target schema: ordered DDL plus optional
// seed INSERT statements.
type DatabaseSchema struct {
	Name        string   `yaml:"name" json:"name"`
	Statements  []string `yaml:"statements" json:"statements"`
	InitialData []string `yaml:"initialData,omitempty" json:"initialData,omitempty"`
}

// TableDef is one declared table.
type TableDef struct {
	Stmt *sqlparse.CreateTable
	SQL  string
}

// IndexDef is one declared index.
type IndexDef struct {
	Stmt *sqlparse.CreateIndex
	SQL  string
}

// PragmaDef is one declared pragma.
type PragmaDef struct {
	Stmt *sqlparse.Pragma
	SQL  string
}

// SeedDef is one declared seed statement.
type SeedDef struct {
	Stmt *sqlparse.Insert
	SQL  string
}

// ParsedSchema is a DatabaseSchema with every statement parsed. A later
// statement for an already declared table or index name replaces the
// earlier one but keeps its position.
type ParsedSchema struct {
	Name       string
	Tables     map[string]TableDef
	TableOrder []string
	Indexes    map[string]IndexDef
	IndexOrder []string
	Pragmas    []PragmaDef
	Seeds      []SeedDef
}

// ParseSchema parses every statement of schema. The first unparseable
// statement aborts with an error.
func ParseSchema(schema DatabaseSchema) (*ParsedSchema, error) {
	parsed := &ParsedSchema{
		Name:    schema.Name,
		Tables:  make(map[string]TableDef),
		Indexes: make(map[string]IndexDef),
	}

	for i, raw := range schema.Statements {
		stmt, err := sqlparse.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("drift: schema %q statement %d: %w", schema.Name, i+1, err)
		}
		switch s := stmt.(type) {
		case *sqlparse.CreateTable:
			if _, ok := parsed.Tables[s.Name]; !ok {
				parsed.TableOrder = append(parsed.TableOrder, s.Name)
			}
			parsed.Tables[s.Name] = TableDef{Stmt: s, SQL: raw}
		case *sqlparse.CreateIndex:
			if _, ok := parsed.Indexes[s.Name]; !ok {
				parsed.IndexOrder = append(parsed.IndexOrder, s.Name)
			}
			parsed.Indexes[s.Name] = IndexDef{Stmt: s, SQL: raw}
		case *sqlparse.Pragma:
			parsed.Pragmas = append(parsed.Pragmas, PragmaDef{Stmt: s, SQL: raw})
		case *sqlparse.Insert:
			return nil, fmt.Errorf("drift: schema %q statement %d: INSERT belongs in initial data", schema.Name, i+1)
		default:
			return nil, fmt.Errorf("drift: schema %q statement %d: unsupported statement %T", schema.Name, i+1, stmt)
		}
	}

	for i, raw := range schema.InitialData {
		stmt, err := sqlparse.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("drift: schema %q initial data %d: %w", schema.Name, i+1, err)
		}
		insert, ok := stmt.(*sqlparse.Insert)
		if !ok {
			return nil, fmt.Errorf("drift: schema %q initial data %d: expected INSERT, got %T", schema.Name, i+1, stmt)
		}
		parsed.Seeds = append(parsed.Seeds, SeedDef{Stmt: insert, SQL: raw})
	}

	return parsed, nil
}

// Declares reports whether name is a declared table. SQLite table names
// are case-insensitive, so Users and users are the same table.
func (s *ParsedSchema) Declares(name string) bool {
	return declared(s.Tables, name)
}

// DeclaresIndex reports whether name is a declared index.
func (s *ParsedSchema) DeclaresIndex(name string) bool {
	return declared(s.Indexes, name)
}

func declared[V any](defs map[string]V, name string) bool {
	if _, ok := defs[name]; ok {
		return true
	}
	for declaredName := range defs {
		if strings.EqualFold(declaredName, name) {
			return true
		}
	}
	return false
}
