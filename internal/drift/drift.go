// Package drift computes the structural differences between a live SQLite
// database and a declared schema. Detection is read-only; applying the
// differences is the job of package migrate.
package drift

import (
	"fmt"
	"sort"
)

// Kind identifies one kind of drift.
type Kind string

const (
	NeedToCreateTable  Kind = "need_to_create_table"
	NeedToAddColumn    Kind = "need_to_add_column"
	NeedToDeleteColumn Kind = "need_to_delete_column"
	NeedToModifyColumn Kind = "need_to_modify_column"
	NeedToRebuildTable Kind = "need_to_rebuild_table"
	NeedToCreateIndex  Kind = "need_to_create_index"
	NeedToDeleteIndex  Kind = "need_to_delete_index"
	ExtraTable         Kind = "extra_table"
)

// Kinds lists every drift kind.
var Kinds = []Kind{
	NeedToCreateTable,
	NeedToAddColumn,
	NeedToDeleteColumn,
	NeedToModifyColumn,
	NeedToRebuildTable,
	NeedToCreateIndex,
	NeedToDeleteIndex,
	ExtraTable,
}

var destructive = map[Kind]bool{
	NeedToCreateTable:  false,
	NeedToAddColumn:    false,
	NeedToDeleteColumn: true,
	NeedToModifyColumn: true,
	NeedToRebuildTable: true,
	NeedToCreateIndex:  false,
	NeedToDeleteIndex:  true,
	ExtraTable:         true,
}

// Destructive reports whether applying a drift of this kind can lose data
// or requires a table rebuild. Unknown kinds are treated as destructive.
func (k Kind) Destructive() bool {
	d, ok := destructive[k]
	return !ok || d
}

// Drift is one detected difference. Only the fields relevant to Kind are set.
type Drift struct {
	Kind          Kind   `json:"type"`
	TableName     string `json:"tableName,omitempty"`
	ColumnName    string `json:"columnName,omitempty"`
	IndexName     string `json:"indexName,omitempty"`
	OldDefinition string `json:"oldDefinition,omitempty"`
	NewDefinition string `json:"newDefinition,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

// IsDestructive reports whether d is destructive. It depends on d.Kind only.
func IsDestructive(d Drift) bool {
	return d.Kind.Destructive()
}

func (d Drift) String() string {
	switch {
	case d.ColumnName != "":
		return fmt.Sprintf("%s %s.%s", d.Kind, d.TableName, d.ColumnName)
	case d.IndexName != "":
		return fmt.Sprintf("%s %s", d.Kind, d.IndexName)
	default:
		return fmt.Sprintf("%s %s", d.Kind, d.TableName)
	}
}

// TableDrift is the ordered list of drifts for one table.
type TableDrift []Drift

// Has reports whether any drift has the given kind.
func (td TableDrift) Has(kind Kind) bool {
	for _, d := range td {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// SchemaKey is the DatabaseDrift.Tables key holding drifts that belong to
// no single declared table: index creation and deletion, extra tables.
const SchemaKey = "*schema*"

// DatabaseDrift is the full difference between a database and a schema.
type DatabaseDrift struct {
	Tables   map[string]TableDrift `json:"tables"`
	Order    []string              `json:"order"`
	Warnings []string              `json:"warnings"`
}

func newDatabaseDrift() DatabaseDrift {
	return DatabaseDrift{
		Tables:   make(map[string]TableDrift),
		Order:    make([]string, 0),
		Warnings: make([]string, 0),
	}
}

func (dd *DatabaseDrift) add(key string, drifts ...Drift) {
	if len(drifts) == 0 {
		return
	}
	if _, ok := dd.Tables[key]; !ok {
		dd.Order = append(dd.Order, key)
	}
	dd.Tables[key] = append(dd.Tables[key], drifts...)
}

// Each calls fn for every drift, table by table in detection order with
// schema-level drifts last.
func (dd DatabaseDrift) Each(fn func(key string, d Drift)) {
	for _, key := range dd.keys() {
		for _, d := range dd.Tables[key] {
			fn(key, d)
		}
	}
}

func (dd DatabaseDrift) keys() []string {
	keys := make([]string, 0, len(dd.Tables))
	seen := make(map[string]bool, len(dd.Tables))
	for _, key := range dd.Order {
		if key == SchemaKey || seen[key] {
			continue
		}
		if _, ok := dd.Tables[key]; ok {
			keys = append(keys, key)
			seen[key] = true
		}
	}
	rest := make([]string, 0)
	for key := range dd.Tables {
		if key != SchemaKey && !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)
	if _, ok := dd.Tables[SchemaKey]; ok {
		keys = append(keys, SchemaKey)
	}
	return keys
}

// All returns every drift in Each order.
func (dd DatabaseDrift) All() []Drift {
	all := make([]Drift, 0)
	dd.Each(func(_ string, d Drift) {
		all = append(all, d)
	})
	return all
}

// Empty reports whether no drift was found.
func (dd DatabaseDrift) Empty() bool {
	for _, td := range dd.Tables {
		if len(td) > 0 {
			return false
		}
	}
	return true
}

// Count returns the number of drifts, split into safe and destructive.
func (dd DatabaseDrift) Count() (safe, destructive int) {
	dd.Each(func(_ string, d Drift) {
		if IsDestructive(d) {
			destructive++
			return
		}
		safe++
	})
	return safe, destructive
}
