// Command schema-sync brings a SQLite database in line with a declared
// schema file.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/beyond5959/go-schema-sync/internal/config"
	"github.com/beyond5959/go-schema-sync/internal/drift"
	"github.com/beyond5959/go-schema-sync/internal/migrate"
	"github.com/beyond5959/go-schema-sync/internal/observability"
	"github.com/beyond5959/go-schema-sync/internal/storage"
)

var errDriftDetected = errors.New("drift detected")

// CLI defines the command-line interface.
type CLI struct {
	DB        string `name:"db" short:"d" help:"SQLite database path" default:"schema-sync.db" env:"SCHEMA_SYNC_DB"`
	LogFormat string `name:"log-format" help:"Log format (json, text)" enum:"json,text" default:"text"`
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)" default:"info"`

	Apply ApplyCmd `cmd:"" help:"Apply schema drift to the database"`
	Check CheckCmd `cmd:"" help:"Report drift without changing the database"`
	Drift DriftCmd `cmd:"" help:"Print drift as JSON"`
	Runs  RunsCmd  `cmd:"" help:"List recorded migration runs"`
}

// ApplyCmd migrates the database under the chosen behavior.
type ApplyCmd struct {
	Schema   string `name:"schema" short:"s" help:"Schema file (.yaml, .yml or .sql)" required:"" type:"existingfile"`
	Behavior string `name:"behavior" short:"b" help:"strict, safe-upgrades, full-destructive-updates or ignore; overrides the schema file" env:"SCHEMA_SYNC_BEHAVIOR"`
}

// CheckCmd logs drift and optionally fails when there is any.
type CheckCmd struct {
	Schema      string `name:"schema" short:"s" help:"Schema file (.yaml, .yml or .sql)" required:"" type:"existingfile"`
	FailOnDrift bool   `name:"fail-on-drift" help:"Exit non-zero when drift is found"`
}

// DriftCmd prints the detected drift.
type DriftCmd struct {
	Schema string `name:"schema" short:"s" help:"Schema file (.yaml, .yml or .sql)" required:"" type:"existingfile"`
}

// RunsCmd lists the run log.
type RunsCmd struct {
	Limit int `name:"limit" short:"n" help:"Maximum runs to list (0 for all)" default:"20"`
}

type app struct {
	ctx    context.Context
	out    io.Writer
	logger *slog.Logger
	dbPath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var cli CLI
	exitCode := -1
	parser, err := kong.New(&cli,
		kong.Name("schema-sync"),
		kong.Description("Declarative SQLite schema migrations"),
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) { exitCode = code }),
		kong.UsageOnError(),
	)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "schema-sync: %v\n", err)
		return 2
	}
	kctx, err := parser.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		parser.Errorf("%s", err)
		return 2
	}

	level, err := observability.ParseLevel(cli.LogLevel)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "schema-sync: %v\n", err)
		return 2
	}
	logger, err := observability.NewLogger(stderr, cli.LogFormat, level)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "schema-sync: %v\n", err)
		return 2
	}

	a := &app{ctx: ctx, out: stdout, logger: logger, dbPath: cli.DB}
	if err := kctx.Run(a); err != nil {
		if !errors.Is(err, errDriftDetected) {
			logger.Error("command.failed", "command", kctx.Command(), "error", err.Error())
		}
		return 1
	}
	return 0
}

// Run applies the schema.
func (c *ApplyCmd) Run(a *app) error {
	file, err := config.Load(c.Schema)
	if err != nil {
		return err
	}
	cfg, err := file.MigrateConfig(c.Behavior, a.logger)
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer a.closeStore(store)

	m, err := migrate.New(store, file.Schema(), cfg)
	if err != nil {
		return err
	}
	startedAt := time.Now()
	report, err := m.Apply(a.ctx)
	if err != nil {
		return err
	}
	printApplySummary(a.out, startedAt, file.Name, a.dbPath, report)
	return nil
}

// Run checks the schema.
func (c *CheckCmd) Run(a *app) error {
	file, err := config.Load(c.Schema)
	if err != nil {
		return err
	}
	cfg, err := file.MigrateConfig(string(migrate.BehaviorStrict), a.logger)
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer a.closeStore(store)

	m, err := migrate.New(store, file.Schema(), cfg)
	if err != nil {
		return err
	}
	report, err := m.Apply(a.ctx)
	if err != nil {
		return err
	}

	safe, destructive := report.Drift.Count()
	_, _ = fmt.Fprintf(a.out, "%s: %d safe, %d destructive, %d warnings\n",
		file.Name, safe, destructive, len(report.Drift.Warnings))
	report.Drift.Each(func(_ string, d drift.Drift) {
		_, _ = fmt.Fprintf(a.out, "  %s\n", d)
	})
	if c.FailOnDrift && !report.Drift.Empty() {
		return errDriftDetected
	}
	return nil
}

type driftOutput struct {
	Schema   string        `json:"schema"`
	Drifts   []drift.Drift `json:"drifts"`
	Warnings []string      `json:"warnings"`
}

// Run prints drift as JSON.
func (c *DriftCmd) Run(a *app) error {
	file, err := config.Load(c.Schema)
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer a.closeStore(store)

	m, err := migrate.New(store, file.Schema(), migrate.Config{Behavior: migrate.BehaviorStrict, Logger: a.logger})
	if err != nil {
		return err
	}
	dd, err := m.Detect(a.ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(driftOutput{
		Schema:   file.Name,
		Drifts:   dd.All(),
		Warnings: dd.Warnings,
	})
}

// Run lists recorded runs, newest first.
func (c *RunsCmd) Run(a *app) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer a.closeStore(store)

	runs, err := store.ListRuns(a.ctx, c.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(a.out, "no runs recorded")
		return nil
	}
	for _, r := range runs {
		_, _ = fmt.Fprintf(a.out, "#%d  %s  %-24s  %-12s  attempts=%d applied=%d skipped=%d warnings=%d\n",
			r.RunID,
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			r.Behavior,
			r.SchemaName,
			r.Attempts,
			r.Applied,
			r.Skipped,
			r.Warnings,
		)
	}
	return nil
}

func (a *app) openStore() (*storage.Store, error) {
	if err := ensureDBPathParent(a.dbPath); err != nil {
		a.logger.Error("startup.invalid_db_path", "error", err.Error(), "dbPath", a.dbPath)
		return nil, err
	}
	store, err := storage.New(a.dbPath)
	if err != nil {
		a.logger.Error("startup.storage_open_failed", "error", err.Error(), "dbPath", a.dbPath)
		return nil, err
	}
	a.logger.Debug("startup.storage_opened", "dbPath", a.dbPath, "driver", storage.DriverPackage())
	return store, nil
}

func (a *app) closeStore(store *storage.Store) {
	if err := store.Close(); err != nil {
		a.logger.Error("shutdown.storage_close_failed", "error", err.Error())
	}
}

func ensureDBPathParent(dbPath string) error {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		return errors.New("db path is empty")
	}
	if path == ":memory:" {
		return nil
	}
	parent := filepath.Dir(filepath.Clean(path))
	if parent == "." {
		return nil
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create db parent dir %q: %w", parent, err)
	}
	return nil
}

func printApplySummary(out io.Writer, startedAt time.Time, schemaName, dbPath string, report migrate.Report) {
	if out == nil {
		return
	}
	timestamp := startedAt.Local().Format("2006-01-02 15:04:05 MST")
	_, _ = fmt.Fprintf(
		out,
		"Schema sync complete\n"+
			"  Time:     %s\n"+
			"  Schema:   %s\n"+
			"  DB:       %s\n"+
			"  Behavior: %s\n"+
			"  Attempts: %d\n"+
			"  Applied:  %d\n"+
			"  Skipped:  %d\n"+
			"  Rebuilt:  %s\n"+
			"  Seeded:   %s\n"+
			"  Warnings: %d\n",
		timestamp,
		strings.TrimSpace(schemaName),
		strings.TrimSpace(dbPath),
		report.Behavior,
		report.Attempts,
		len(report.Result.Applied),
		len(report.Result.Skipped),
		listSummary(report.Result.Rebuilt),
		listSummary(report.Seeded),
		len(report.Drift.Warnings),
	)
}

func listSummary(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
