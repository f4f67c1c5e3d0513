package drift

import (
	"strings"

	"github.com/beyond5959/go-schema-sync/internal/sqlparse"
)

const (
	warnNotNullChange = "can't add/remove a 'not null' constraint"
	warnNotNullAdd    = "can't add a 'not null' column without a table rebuild"
)

// CompareTables returns the drifts that turn current into target. Drifts
// for existing columns come first in current's column order, then column
// additions in target's column order.
func CompareTables(current, target *sqlparse.CreateTable) TableDrift {
	drifts := make(TableDrift, 0)
	table := target.Name

	for _, col := range current.Columns {
		want, ok := target.Column(col.Name)
		if !ok {
			drifts = append(drifts, Drift{
				Kind:          NeedToDeleteColumn,
				TableName:     table,
				ColumnName:    col.Name,
				OldDefinition: col.Definition,
			})
			continue
		}
		if col.Definition == want.Definition {
			continue
		}

		if sqlparse.StripNotNull(col.Definition) == sqlparse.StripNotNull(want.Definition) {
			drifts = append(drifts, Drift{
				Kind:          NeedToModifyColumn,
				TableName:     table,
				ColumnName:    col.Name,
				OldDefinition: col.Definition,
				NewDefinition: want.Definition,
				Warning:       warnNotNullChange,
			})
			continue
		}

		drifts = append(drifts, Drift{
			Kind:          NeedToRebuildTable,
			TableName:     table,
			ColumnName:    col.Name,
			OldDefinition: col.Definition,
			NewDefinition: want.Definition,
		})
	}

	for _, col := range target.Columns {
		if _, ok := current.Column(col.Name); ok {
			continue
		}
		d := Drift{
			Kind:          NeedToAddColumn,
			TableName:     table,
			ColumnName:    col.Name,
			NewDefinition: col.Definition,
		}
		if sqlparse.HasNotNull(col.Definition) {
			d.Warning = warnNotNullAdd
		}
		drifts = append(drifts, d)
	}

	if !sameConstraints(current, target) {
		drifts = append(drifts, Drift{
			Kind:          NeedToRebuildTable,
			TableName:     table,
			OldDefinition: constraintText(current),
			NewDefinition: constraintText(target),
		})
	}

	return drifts
}

// sameConstraints compares the table-level clauses that ALTER TABLE cannot change.
func sameConstraints(a, b *sqlparse.CreateTable) bool {
	return constraintText(a) == constraintText(b)
}

func constraintText(t *sqlparse.CreateTable) string {
	parts := make([]string, 0, len(t.Constraints)+len(t.UniqueConstraints)+len(t.ForeignKeys)+1)
	parts = append(parts, t.Constraints...)
	parts = append(parts, t.UniqueConstraints...)
	parts = append(parts, t.ForeignKeys...)
	if t.Options != "" {
		parts = append(parts, t.Options)
	}
	return strings.Join(parts, ", ")
}
