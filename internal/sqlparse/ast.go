package sqlparse

import (
	"strings"
)

// Statement is one parsed statement. The concrete type is one of
// *CreateTable, *CreateIndex, *Insert, or *Pragma.
type Statement interface {
	statement()
}

// Column is one column of a CREATE TABLE statement. Definition holds the
// normalized text after the column name: type followed by constraints.
type Column struct {
	Name       string
	Definition string
}

// CreateTable is a parsed CREATE TABLE statement.
type CreateTable struct {
	Name              string
	Columns           []Column
	ForeignKeys       []string
	UniqueConstraints []string
	// Constraints holds the remaining table constraints (PRIMARY KEY, CHECK, named CONSTRAINT).
	Constraints []string
	// Options is the text after the closing parenthesis, e.g. "WITHOUT ROWID".
	Options string
}

// CreateIndex is a parsed CREATE INDEX statement. The indexed columns are
// not modeled.
type CreateIndex struct {
	Name   string
	Table  string
	Unique bool
}

// Insert is a parsed INSERT INTO ... VALUES statement.
type Insert struct {
	Table   string
	Columns []string
	Rows    [][]string
}

// Pragma is a parsed PRAGMA statement. Value is empty for the bare form.
type Pragma struct {
	Name  string
	Value string
}

func (*CreateTable) statement() {}
func (*CreateIndex) statement() {}
func (*Insert) statement()      {}
func (*Pragma) statement()      {}

// Column returns the column with the given name, compared case-insensitively.
func (t *CreateTable) Column(name string) (Column, bool) {
	for _, col := range t.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return Column{}, false
}

// ColumnNames returns column names in declaration order.
func (t *CreateTable) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		names = append(names, col.Name)
	}
	return names
}

// SQL renders the table as a CREATE TABLE statement named name.
func (t *CreateTable) SQL(name string) string {
	parts := make([]string, 0, len(t.Columns)+len(t.Constraints)+len(t.UniqueConstraints)+len(t.ForeignKeys))
	for _, col := range t.Columns {
		parts = append(parts, strings.TrimSpace(QuoteIdent(col.Name)+" "+col.Definition))
	}
	parts = append(parts, t.Constraints...)
	parts = append(parts, t.UniqueConstraints...)
	parts = append(parts, t.ForeignKeys...)

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(QuoteIdent(name))
	b.WriteString(" (")
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString(")")
	if t.Options != "" {
		b.WriteString(" ")
		b.WriteString(t.Options)
	}
	return b.String()
}

// Values returns the first row of values, or nil.
func (i *Insert) Values() []string {
	if len(i.Rows) == 0 {
		return nil
	}
	return i.Rows[0]
}

// HasNotNull reports whether a column definition carries a NOT NULL constraint.
func HasNotNull(definition string) bool {
	return strings.Contains(" "+definition+" ", " NOT NULL ")
}

// HasDefault reports whether a column definition carries a DEFAULT clause.
func HasDefault(definition string) bool {
	return strings.Contains(" "+definition+" ", " DEFAULT ")
}

// StripNotNull removes NOT NULL constraints from a column definition.
func StripNotNull(definition string) string {
	padded := " " + definition + " "
	for strings.Contains(padded, " NOT NULL ") {
		padded = strings.Replace(padded, " NOT NULL ", " ", 1)
	}
	return strings.TrimSpace(padded)
}
