package drift

import (
	"context"
	"fmt"
	"strings"

	"github.com/beyond5959/go-schema-sync/internal/sqlparse"
	"github.com/beyond5959/go-schema-sync/internal/storage"
)

// Catalog is the read-only view of sqlite_master that detection needs.
// storage.Handle satisfies it.
type Catalog interface {
	FindObject(ctx context.Context, name string) ([]storage.CatalogEntry, error)
	ListObjects(ctx context.Context, objType string) ([]storage.CatalogEntry, error)
}

var reservedPrefixes = []string{"sqlite_", "_litestream"}

// IsReserved reports whether a table belongs to SQLite, a replication tool,
// or the migration run log rather than to an application schema.
func IsReserved(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return strings.EqualFold(name, storage.RunLogTable)
}

// Detect compares the live catalog against schema. It never writes.
func Detect(ctx context.Context, catalog Catalog, schema *ParsedSchema) (DatabaseDrift, error) {
	dd := newDatabaseDrift()

	for _, name := range schema.TableOrder {
		def := schema.Tables[name]
		entry, found, err := findObject(ctx, catalog, name, "table")
		if err != nil {
			return DatabaseDrift{}, err
		}
		if !found {
			dd.add(name, Drift{
				Kind:          NeedToCreateTable,
				TableName:     name,
				NewDefinition: def.SQL,
			})
			continue
		}

		current, err := parseCatalogTable(entry)
		if err != nil {
			return DatabaseDrift{}, err
		}
		dd.add(name, CompareTables(current, def.Stmt)...)
	}

	physicalTables, err := catalog.ListObjects(ctx, "table")
	if err != nil {
		return DatabaseDrift{}, fmt.Errorf("drift: list tables: %w", err)
	}
	undeclared := make(map[string]bool)
	for _, entry := range physicalTables {
		if schema.Declares(entry.Name) || IsReserved(entry.Name) {
			continue
		}
		undeclared[entry.Name] = true
		dd.add(SchemaKey, Drift{
			Kind:      ExtraTable,
			TableName: entry.Name,
		})
		dd.Warnings = append(dd.Warnings, fmt.Sprintf("Database has a table that's not part of the app schema: `%s`", entry.Name))
	}

	for _, name := range schema.IndexOrder {
		def := schema.Indexes[name]
		_, found, err := findObject(ctx, catalog, name, "index")
		if err != nil {
			return DatabaseDrift{}, err
		}
		if found {
			continue
		}
		dd.add(SchemaKey, Drift{
			Kind:          NeedToCreateIndex,
			TableName:     def.Stmt.Table,
			IndexName:     name,
			NewDefinition: def.SQL,
		})
	}

	physicalIndexes, err := catalog.ListObjects(ctx, "index")
	if err != nil {
		return DatabaseDrift{}, fmt.Errorf("drift: list indexes: %w", err)
	}
	for _, entry := range physicalIndexes {
		if entry.SQL == "" || IsReserved(entry.Name) || IsReserved(entry.TableName) || undeclared[entry.TableName] {
			continue
		}
		if schema.DeclaresIndex(entry.Name) {
			continue
		}
		dd.add(SchemaKey, Drift{
			Kind:          NeedToDeleteIndex,
			TableName:     entry.TableName,
			IndexName:     entry.Name,
			OldDefinition: entry.SQL,
		})
		dd.Warnings = append(dd.Warnings, fmt.Sprintf("Database has an index that's not part of the app schema: `%s`", entry.Name))
	}

	return dd, nil
}

func findObject(ctx context.Context, catalog Catalog, name, objType string) (storage.CatalogEntry, bool, error) {
	entries, err := catalog.FindObject(ctx, name)
	if err != nil {
		return storage.CatalogEntry{}, false, fmt.Errorf("drift: look up %s %q: %w", objType, name, err)
	}
	for _, entry := range entries {
		if entry.Type == objType {
			return entry, true, nil
		}
	}
	if len(entries) > 0 {
		return storage.CatalogEntry{}, false, fmt.Errorf("drift: %q exists as a %s, want %s", name, entries[0].Type, objType)
	}
	return storage.CatalogEntry{}, false, nil
}

func parseCatalogTable(entry storage.CatalogEntry) (*sqlparse.CreateTable, error) {
	stmt, err := sqlparse.Parse(entry.SQL)
	if err != nil {
		return nil, fmt.Errorf("drift: parse catalog sql for %q: %w", entry.Name, err)
	}
	table, ok := stmt.(*sqlparse.CreateTable)
	if !ok {
		return nil, fmt.Errorf("drift: catalog sql for %q is %T, want CREATE TABLE", entry.Name, stmt)
	}
	return table, nil
}
