package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/beyond5959/go-schema-sync/internal/drift"
	"github.com/beyond5959/go-schema-sync/internal/observability"
	"github.com/beyond5959/go-schema-sync/internal/storage"
)

// DefaultMaxAttempts bounds the detect-apply cycle.
const DefaultMaxAttempts = 3

// DefaultRetryPatterns match the errors another process produces when it
// applies the same migration first.
var DefaultRetryPatterns = []string{
	`table .* already exists`,
	`index .* already exists`,
	`duplicate column name`,
}

// RetryPolicy decides whether a failed detect-apply cycle is restarted.
type RetryPolicy struct {
	MaxAttempts int
	Patterns    []*regexp.Regexp
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	patterns, err := CompilePatterns(DefaultRetryPatterns)
	if err != nil {
		panic(err)
	}
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Patterns: patterns}
}

// CompilePatterns compiles case-insensitive retry patterns.
func CompilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("migrate: retry pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Retryable reports whether err matches one of the policy's patterns.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, re := range p.Patterns {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

// Config configures a Migrator.
type Config struct {
	Behavior Behavior
	Retry    RetryPolicy
	Logger   *slog.Logger
}

// Report describes one Apply call.
type Report struct {
	Behavior Behavior            `json:"behavior"`
	Attempts int                 `json:"attempts"`
	Drift    drift.DatabaseDrift `json:"drift"`
	Result   Result              `json:"result"`
	Seeded   []string            `json:"seeded"`
	RunID    int64               `json:"runId,omitempty"`
}

// Migrator is the entry point: it ties drift detection, execution under the
// configured behavior, and seed data together.
type Migrator struct {
	store    *storage.Store
	schema   *drift.ParsedSchema
	behavior Behavior
	retry    RetryPolicy
	logger   *slog.Logger
	exec     *Executor
	now      func() time.Time

	detect           func(ctx context.Context) (drift.DatabaseDrift, error)
	applySafe        func(ctx context.Context, dd drift.DatabaseDrift) (Result, error)
	applyDestructive func(ctx context.Context, dd drift.DatabaseDrift) (Result, error)
}

// New parses schema and returns a Migrator for store. An unparseable
// statement fails here, before anything touches the database.
func New(store *storage.Store, schema drift.DatabaseSchema, cfg Config) (*Migrator, error) {
	if store == nil {
		return nil, errors.New("migrate: store is required")
	}
	if cfg.Behavior == "" {
		cfg.Behavior = BehaviorSafeUpgrades
	}
	behavior, err := ParseBehavior(string(cfg.Behavior))
	if err != nil {
		return nil, err
	}
	parsed, err := drift.ParseSchema(schema)
	if err != nil {
		return nil, err
	}

	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultMaxAttempts
	}
	if retry.Patterns == nil {
		retry.Patterns = DefaultRetryPolicy().Patterns
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewJSONLogger(slog.LevelInfo)
	}

	exec := NewExecutor(store.Handle(), parsed, logger)
	m := &Migrator{
		store:    store,
		schema:   parsed,
		behavior: behavior,
		retry:    retry,
		logger:   logger,
		exec:     exec,
		now:      time.Now,
	}
	m.detect = exec.Detect
	m.applySafe = exec.ApplySafeUpgrades
	m.applyDestructive = exec.ApplyDestructiveUpdates
	return m, nil
}

// Schema returns the parsed schema.
func (m *Migrator) Schema() *drift.ParsedSchema {
	return m.schema
}

// Detect computes the current drift without applying it.
func (m *Migrator) Detect(ctx context.Context) (drift.DatabaseDrift, error) {
	return m.detect(ctx)
}

// Apply runs one migration under the configured behavior.
func (m *Migrator) Apply(ctx context.Context) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	report := Report{Behavior: m.behavior, Seeded: make([]string, 0)}
	startedAt := m.now()

	switch m.behavior {
	case BehaviorIgnore:
		m.logger.Info("migrate.ignored", "schema", m.schema.Name)
		return report, nil
	case BehaviorStrict:
		dd, err := m.exec.Check(ctx)
		if err != nil {
			return report, err
		}
		report.Drift = dd
		return report, nil
	}

	if err := m.applyPragmas(ctx); err != nil {
		return report, err
	}

	for attempt := 1; ; attempt++ {
		report.Attempts = attempt
		dd, res, err := m.cycle(ctx)
		if err == nil {
			report.Drift = dd
			report.Result = res
			break
		}
		if attempt >= m.retry.MaxAttempts || !m.retry.Retryable(err) {
			return report, err
		}
		m.logger.Warn(fmt.Sprintf("Migration attempt %d failed with retryable error, retrying...", attempt), "error", err.Error())
	}

	for _, warning := range report.Drift.Warnings {
		m.logger.Warn(warning)
	}

	seeded, err := m.applySeeds(ctx)
	report.Seeded = seeded
	if err != nil {
		return report, err
	}

	run, err := m.store.RecordRun(ctx, storage.RecordRunParams{
		SchemaName: m.schema.Name,
		Behavior:   string(m.behavior),
		Attempts:   report.Attempts,
		Applied:    len(report.Result.Applied),
		Skipped:    len(report.Result.Skipped),
		Warnings:   len(report.Drift.Warnings),
		StartedAt:  startedAt,
	})
	if err != nil {
		return report, err
	}
	report.RunID = run.RunID

	m.logger.Info("migrate.complete",
		"schema", m.schema.Name,
		"behavior", string(m.behavior),
		"attempts", report.Attempts,
		"applied", len(report.Result.Applied),
		"skipped", len(report.Result.Skipped),
		"rebuilt", len(report.Result.Rebuilt),
		"seeded", len(report.Seeded),
	)
	return report, nil
}

func (m *Migrator) cycle(ctx context.Context) (drift.DatabaseDrift, Result, error) {
	dd, err := m.detect(ctx)
	if err != nil {
		return drift.DatabaseDrift{}, Result{}, err
	}
	var res Result
	if m.behavior == BehaviorFullDestructive {
		res, err = m.applyDestructive(ctx, dd)
	} else {
		res, err = m.applySafe(ctx, dd)
	}
	return dd, res, err
}

func (m *Migrator) applyPragmas(ctx context.Context) error {
	h := m.store.Handle()
	for _, p := range m.schema.Pragmas {
		if _, err := h.Run(ctx, p.SQL); err != nil {
			return fmt.Errorf("migrate: pragma %s: %w", p.Stmt.Name, err)
		}
		m.logger.Info("migrate.pragma_applied", "pragma", p.Stmt.Name, "value", p.Stmt.Value)
	}
	return nil
}

// applySeeds runs each seed statement whose table has no rows at the time
// the statement is reached. A later seed for an already seeded table is
// skipped, so one table's rows belong in one multi-row INSERT.
func (m *Migrator) applySeeds(ctx context.Context) ([]string, error) {
	h := m.store.Handle()
	seeded := make([]string, 0)
	for _, seed := range m.schema.Seeds {
		table := seed.Stmt.Table
		n, err := h.CountRows(ctx, table)
		if err != nil {
			return seeded, fmt.Errorf("migrate: seed %s: %w", table, err)
		}
		if n > 0 {
			m.logger.Debug("migrate.seed_skipped", "table", table, "rows", n)
			continue
		}
		if _, err := h.Run(ctx, seed.SQL); err != nil {
			return seeded, fmt.Errorf("migrate: seed %s: %w", table, err)
		}
		seeded = append(seeded, table)
		m.logger.Info("migrate.seed_applied", "table", table, "rows", len(seed.Stmt.Rows))
	}
	return seeded, nil
}
