// Package migrate applies schema drift to a SQLite database under a chosen
// Behavior, rebuilding tables when ALTER TABLE cannot express a change, and
// retries the detect-apply cycle when another process migrates concurrently.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/beyond5959/go-schema-sync/internal/drift"
	"github.com/beyond5959/go-schema-sync/internal/sqlparse"
	"github.com/beyond5959/go-schema-sync/internal/storage"
)

// Result lists what one executor pass did.
type Result struct {
	Applied []drift.Drift `json:"applied"`
	Skipped []drift.Drift `json:"skipped"`
	Rebuilt []string      `json:"rebuilt"`
}

func (r *Result) merge(other Result) {
	r.Applied = append(r.Applied, other.Applied...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Rebuilt = append(r.Rebuilt, other.Rebuilt...)
}

// Executor applies drift for one parsed schema through one database handle.
type Executor struct {
	db       storage.Handle
	schema   *drift.ParsedSchema
	logger   *slog.Logger
	tempName func(table string) string
}

// NewExecutor returns an executor for schema over db.
func NewExecutor(db storage.Handle, schema *drift.ParsedSchema, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		db:       db,
		schema:   schema,
		logger:   logger,
		tempName: tempTableName,
	}
}

func (e *Executor) withHandle(db storage.Handle) *Executor {
	clone := *e
	clone.db = db
	return &clone
}

// Detect computes the current drift. It never writes.
func (e *Executor) Detect(ctx context.Context) (drift.DatabaseDrift, error) {
	return drift.Detect(ctx, e.db, e.schema)
}

// Check detects drift and logs every warning without changing anything.
func (e *Executor) Check(ctx context.Context) (drift.DatabaseDrift, error) {
	dd, err := e.Detect(ctx)
	if err != nil {
		return drift.DatabaseDrift{}, err
	}
	for _, warning := range dd.Warnings {
		e.logger.Warn(warning)
	}
	safe, destructive := dd.Count()
	e.logger.Info("migrate.check_complete",
		"schema", e.schema.Name,
		"safeDrifts", safe,
		"destructiveDrifts", destructive,
	)
	dd.Each(func(_ string, d drift.Drift) {
		e.logger.Info("migrate.drift_detected", driftAttrs(d)...)
	})
	return dd, nil
}

// ApplySafeUpgrades applies every non-destructive drift: table creation,
// column additions without NOT NULL, and index creation. Everything else is
// logged and skipped; a destructive drift is never an error here.
func (e *Executor) ApplySafeUpgrades(ctx context.Context, dd drift.DatabaseDrift) (Result, error) {
	return e.safePass(ctx, dd, true)
}

func (e *Executor) safePass(ctx context.Context, dd drift.DatabaseDrift, logSkips bool) (Result, error) {
	var res Result
	for _, d := range dd.All() {
		if drift.IsDestructive(d) || (d.Kind == drift.NeedToAddColumn && sqlparse.HasNotNull(d.NewDefinition)) {
			res.Skipped = append(res.Skipped, d)
			if logSkips {
				e.logSkipped(d)
			}
			continue
		}
		if err := e.applySafe(ctx, d); err != nil {
			return res, err
		}
		res.Applied = append(res.Applied, d)
	}
	return res, nil
}

func (e *Executor) applySafe(ctx context.Context, d drift.Drift) error {
	switch d.Kind {
	case drift.NeedToCreateTable:
		def, ok := e.schema.Tables[d.TableName]
		if !ok {
			return fmt.Errorf("migrate: table %q is not declared", d.TableName)
		}
		if _, err := e.db.Run(ctx, def.SQL); err != nil {
			return fmt.Errorf("migrate: create table %s: %w", d.TableName, err)
		}
		e.logger.Info("migrate.table_created", "table", d.TableName)
	case drift.NeedToAddColumn:
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			sqlparse.QuoteIdent(d.TableName),
			sqlparse.QuoteIdent(d.ColumnName),
			d.NewDefinition,
		)
		if _, err := e.db.Run(ctx, strings.TrimSpace(stmt)); err != nil {
			return fmt.Errorf("migrate: add column %s.%s: %w", d.TableName, d.ColumnName, err)
		}
		e.logger.Info("migrate.column_added", "table", d.TableName, "column", d.ColumnName)
	case drift.NeedToCreateIndex:
		def, ok := e.schema.Indexes[d.IndexName]
		if !ok {
			return fmt.Errorf("migrate: index %q is not declared", d.IndexName)
		}
		if _, err := e.db.Run(ctx, def.SQL); err != nil {
			return fmt.Errorf("migrate: create index %s: %w", d.IndexName, err)
		}
		e.logger.Info("migrate.index_created", "index", d.IndexName, "table", d.TableName)
	default:
		return fmt.Errorf("migrate: %s is not a safe drift", d.Kind)
	}
	return nil
}

// ApplyDestructiveUpdates applies every drift. Tables that need a rebuild
// are rebuilt once each; other tables get incremental CREATE and ADD COLUMN
// statements. Missing indexes are created, undeclared indexes and tables dropped.
func (e *Executor) ApplyDestructiveUpdates(ctx context.Context, dd drift.DatabaseDrift) (Result, error) {
	var res Result

	rebuilds := make([]string, 0)
	for _, key := range dd.Order {
		if key == drift.SchemaKey {
			continue
		}
		td := dd.Tables[key]
		if needsRebuild(td) {
			rebuilds = append(rebuilds, key)
			continue
		}
		for _, d := range td {
			if err := e.applySafe(ctx, d); err != nil {
				return res, err
			}
			res.Applied = append(res.Applied, d)
		}
	}

	for i, table := range rebuilds {
		inner, err := e.rebuild(ctx, table, rebuilds[i+1:])
		if err != nil {
			return res, err
		}
		res.Applied = append(res.Applied, dd.Tables[table]...)
		res.Rebuilt = append(res.Rebuilt, table)
		res.merge(inner)
	}

	schemaLevel := dd.Tables[drift.SchemaKey]
	if len(rebuilds) > 0 {
		fresh, err := e.Detect(ctx)
		if err != nil {
			return res, err
		}
		schemaLevel = fresh.Tables[drift.SchemaKey]
	}

	for _, kind := range []drift.Kind{drift.NeedToDeleteIndex, drift.ExtraTable, drift.NeedToCreateIndex} {
		for _, d := range schemaLevel {
			if d.Kind != kind {
				continue
			}
			if err := e.applySchemaLevel(ctx, d); err != nil {
				return res, err
			}
			res.Applied = append(res.Applied, d)
		}
	}

	return res, nil
}

// needsRebuild reports whether a table's drift can only be applied by
// recreating the table. A NOT NULL column without a DEFAULT cannot be added
// with ALTER TABLE, so it also forces a rebuild.
func needsRebuild(td drift.TableDrift) bool {
	for _, d := range td {
		switch d.Kind {
		case drift.NeedToRebuildTable, drift.NeedToModifyColumn, drift.NeedToDeleteColumn:
			return true
		case drift.NeedToAddColumn:
			if sqlparse.HasNotNull(d.NewDefinition) && !sqlparse.HasDefault(d.NewDefinition) {
				return true
			}
		}
	}
	return false
}

func (e *Executor) applySchemaLevel(ctx context.Context, d drift.Drift) error {
	switch d.Kind {
	case drift.ExtraTable:
		if _, err := e.db.Run(ctx, "DROP TABLE "+sqlparse.QuoteIdent(d.TableName)); err != nil {
			return fmt.Errorf("migrate: drop table %s: %w", d.TableName, err)
		}
		e.logger.Warn("migrate.table_dropped", "table", d.TableName)
	case drift.NeedToDeleteIndex:
		if _, err := e.db.Run(ctx, "DROP INDEX "+sqlparse.QuoteIdent(d.IndexName)); err != nil {
			return fmt.Errorf("migrate: drop index %s: %w", d.IndexName, err)
		}
		e.logger.Warn("migrate.index_dropped", "index", d.IndexName, "table", d.TableName)
	default:
		return e.applySafe(ctx, d)
	}
	return nil
}

func (e *Executor) logSkipped(d drift.Drift) {
	reason := "destructive"
	if d.Warning != "" {
		reason = d.Warning
	}
	attrs := append([]any{"reason", reason}, driftAttrs(d)...)
	e.logger.Warn("migrate.drift_skipped", attrs...)
}

func driftAttrs(d drift.Drift) []any {
	attrs := []any{"type", string(d.Kind)}
	if d.TableName != "" {
		attrs = append(attrs, "table", d.TableName)
	}
	if d.ColumnName != "" {
		attrs = append(attrs, "column", d.ColumnName)
	}
	if d.IndexName != "" {
		attrs = append(attrs, "index", d.IndexName)
	}
	if d.Warning != "" {
		attrs = append(attrs, "warning", d.Warning)
	}
	return attrs
}

func tempTableName(table string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("temp_%s_%s", table, suffix)
}
