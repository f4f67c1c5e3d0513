package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/beyond5959/go-schema-sync/internal/drift"
	"github.com/beyond5959/go-schema-sync/internal/sqlparse"
	"github.com/beyond5959/go-schema-sync/internal/storage"
)

// Rebuild recreates table from its declared definition and copies the
// surviving columns across, all in one transaction with foreign key
// enforcement off:
//
//	CREATE TABLE temp_<table>_<hex> (...declared columns...)
//	INSERT INTO temp (shared columns) SELECT shared columns FROM table
//	DROP TABLE table
//	ALTER TABLE temp RENAME TO table
//
// Columns the declaration drops lose their data; new columns get their
// default. Indexes dropped with the old table are recreated by a safe pass
// inside the same transaction. Foreign key violations are logged, not fatal.
func (e *Executor) Rebuild(ctx context.Context, table string) (Result, error) {
	return e.rebuild(ctx, table, nil)
}

// rebuild is Rebuild with a list of tables still waiting for their own
// rebuild. The inner safe pass leaves those tables and their indexes alone:
// their declared columns do not exist yet.
func (e *Executor) rebuild(ctx context.Context, table string, pending []string) (Result, error) {
	def, ok := e.schema.Tables[table]
	if !ok {
		return Result{}, fmt.Errorf("migrate: rebuild %s: table is not declared", table)
	}
	temp := e.tempName(table)

	var (
		res    Result
		copied int
	)
	err := e.db.Transaction(ctx, storage.TxOptions{DisableForeignKeys: true}, func(tx storage.Handle) error {
		oldColumns, err := tx.TableColumns(ctx, table)
		if err != nil {
			return err
		}

		if _, err := tx.Run(ctx, def.Stmt.SQL(temp)); err != nil {
			return fmt.Errorf("create %s: %w", temp, err)
		}

		shared := make([]string, 0, len(oldColumns))
		for _, col := range oldColumns {
			if _, ok := def.Stmt.Column(col); ok {
				shared = append(shared, sqlparse.QuoteIdent(col))
			}
		}
		copied = len(shared)
		if len(shared) > 0 {
			columnList := strings.Join(shared, ", ")
			copyStmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
				sqlparse.QuoteIdent(temp), columnList, columnList, sqlparse.QuoteIdent(table))
			if _, err := tx.Run(ctx, copyStmt); err != nil {
				return fmt.Errorf("copy rows into %s: %w", temp, err)
			}
		}

		if _, err := tx.Run(ctx, "DROP TABLE "+sqlparse.QuoteIdent(table)); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
		if _, err := tx.Run(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", sqlparse.QuoteIdent(temp), sqlparse.QuoteIdent(table))); err != nil {
			return fmt.Errorf("rename %s: %w", temp, err)
		}

		inner := e.withHandle(tx)
		dd, err := inner.Detect(ctx)
		if err != nil {
			return err
		}
		res, err = inner.safePass(ctx, withoutTables(dd, pending), false)
		if err != nil {
			return err
		}
		res.Skipped = nil

		violations, err := tx.Pragma(ctx, "foreign_key_check")
		if err != nil {
			return err
		}
		for _, v := range violations {
			e.logger.Error("migrate.foreign_key_violation",
				"table", fmt.Sprint(v["table"]),
				"rowid", fmt.Sprint(v["rowid"]),
				"parent", fmt.Sprint(v["parent"]),
			)
		}
		return nil
	})
	if err != nil {
		e.logger.Error("migrate.rebuild_failed", "table", table, "tempTable", temp, "error", err.Error())
		return Result{}, fmt.Errorf("migrate: rebuild %s: %w", table, err)
	}

	e.logger.Info("migrate.table_rebuilt", "table", table, "copiedColumns", copied)
	return res, nil
}

// withoutTables drops every drift that belongs to one of tables, including
// index drifts on them.
func withoutTables(dd drift.DatabaseDrift, tables []string) drift.DatabaseDrift {
	if len(tables) == 0 {
		return dd
	}
	skip := make(map[string]bool, len(tables))
	for _, name := range tables {
		skip[strings.ToLower(name)] = true
	}

	out := drift.DatabaseDrift{
		Tables:   make(map[string]drift.TableDrift, len(dd.Tables)),
		Order:    make([]string, 0, len(dd.Order)),
		Warnings: dd.Warnings,
	}
	for key, td := range dd.Tables {
		if skip[strings.ToLower(key)] {
			continue
		}
		kept := make(drift.TableDrift, 0, len(td))
		for _, d := range td {
			if !skip[strings.ToLower(d.TableName)] {
				kept = append(kept, d)
			}
		}
		out.Tables[key] = kept
	}
	for _, key := range dd.Order {
		if _, ok := out.Tables[key]; ok {
			out.Order = append(out.Order, key)
		}
	}
	return out
}
