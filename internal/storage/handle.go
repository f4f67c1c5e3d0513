package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Row is one result row keyed by column name.
type Row map[string]any

// CatalogEntry is one row of the sqlite_master catalog.
type CatalogEntry struct {
	Name      string
	Type      string
	SQL       string
	TableName string
}

// TxOptions controls Handle.Transaction.
type TxOptions struct {
	// DisableForeignKeys turns foreign key enforcement off for the
	// connection while the transaction runs and restores it afterwards.
	DisableForeignKeys bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Handle runs synchronous statements against a database, a pinned
// connection, or an open transaction.
type Handle struct {
	q    querier
	db   *sql.DB
	inTx bool
}

// NewHandle wraps an open database.
func NewHandle(db *sql.DB) Handle {
	return Handle{q: db, db: db}
}

// Run executes a statement that returns no rows.
func (h Handle) Run(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := h.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: run %q: %w", abbreviate(query), err)
	}
	return result, nil
}

// Get returns the first row of a query, or ErrNotFound.
func (h Handle) Get(ctx context.Context, query string, args ...any) (Row, error) {
	rows, err := h.List(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

// List returns every row of a query.
func (h Handle) List(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := h.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query %q: %w", abbreviate(query), err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("storage: read columns: %w", err)
	}

	result := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("storage: scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if raw, ok := values[i].([]byte); ok {
				row[col] = string(raw)
				continue
			}
			row[col] = values[i]
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: query rows: %w", err)
	}
	return result, nil
}

// Pragma runs "PRAGMA <stmt>" and returns its rows, if any.
func (h Handle) Pragma(ctx context.Context, stmt string) ([]Row, error) {
	return h.List(ctx, "PRAGMA "+strings.TrimSpace(stmt))
}

// Transaction runs fn inside a transaction on one pinned connection. The
// transaction commits when fn returns nil. Calling Transaction on a handle
// that is already inside a transaction runs fn in the enclosing one.
func (h Handle) Transaction(ctx context.Context, opts TxOptions, fn func(tx Handle) error) (err error) {
	if h.inTx {
		return fn(h)
	}
	if h.db == nil {
		return errors.New("storage: transaction requires a database handle")
	}

	conn, err := h.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("storage: acquire connection: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if opts.DisableForeignKeys {
		restore, err := disableForeignKeys(ctx, conn)
		if err != nil {
			return err
		}
		defer func() {
			if restoreErr := restore(); restoreErr != nil && err == nil {
				err = restoreErr
			}
		}()
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(Handle{q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit transaction: %w", err)
	}
	return nil
}

func disableForeignKeys(ctx context.Context, conn *sql.Conn) (func() error, error) {
	var enabled int
	if err := conn.QueryRowContext(ctx, `PRAGMA foreign_keys;`).Scan(&enabled); err != nil {
		return nil, fmt.Errorf("storage: read pragma foreign_keys: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = OFF;`); err != nil {
		return nil, fmt.Errorf("storage: disable foreign keys: %w", err)
	}
	return func() error {
		if enabled == 0 {
			return nil
		}
		if _, err := conn.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
			return fmt.Errorf("storage: enable foreign keys: %w", err)
		}
		return nil
	}, nil
}

// FindObject returns the catalog rows named name. Names compare
// case-insensitively, as they do in SQLite.
func (h Handle) FindObject(ctx context.Context, name string) ([]CatalogEntry, error) {
	return h.catalog(ctx, `
		SELECT name, type, sql, tbl_name
		FROM sqlite_master
		WHERE name = ? COLLATE NOCASE;
	`, name)
}

// ListObjects returns catalog rows of one type ("table", "index", ...) ordered by name.
func (h Handle) ListObjects(ctx context.Context, objType string) ([]CatalogEntry, error) {
	return h.catalog(ctx, `
		SELECT name, type, sql, tbl_name
		FROM sqlite_master
		WHERE type = ?
		ORDER BY name ASC;
	`, objType)
}

func (h Handle) catalog(ctx context.Context, query string, arg string) ([]CatalogEntry, error) {
	rows, err := h.q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("storage: query sqlite_master: %w", err)
	}
	defer rows.Close()

	entries := make([]CatalogEntry, 0)
	for rows.Next() {
		var (
			entry  CatalogEntry
			sqlRaw sql.NullString
		)
		if err := rows.Scan(&entry.Name, &entry.Type, &sqlRaw, &entry.TableName); err != nil {
			return nil, fmt.Errorf("storage: scan sqlite_master: %w", err)
		}
		entry.SQL = sqlRaw.String
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: sqlite_master rows: %w", err)
	}
	return entries, nil
}

// CountRows returns the number of rows in table.
func (h Handle) CountRows(ctx context.Context, table string) (int64, error) {
	row, err := h.Get(ctx, `SELECT COUNT(*) AS n FROM `+quoteIdent(table)+`;`)
	if err != nil {
		return 0, err
	}
	n, ok := row["n"].(int64)
	if !ok {
		return 0, fmt.Errorf("storage: count rows in %s: unexpected %T", table, row["n"])
	}
	return n, nil
}

// TableColumns returns the column names of table in declaration order.
func (h Handle) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := h.Pragma(ctx, "table_info("+quoteIdent(table)+");")
	if err != nil {
		return nil, err
	}
	columns := make([]string, 0, len(rows))
	for _, row := range rows {
		name, _ := row["name"].(string)
		columns = append(columns, name)
	}
	return columns, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func abbreviate(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if len(query) > 80 {
		return query[:77] + "..."
	}
	return query
}
