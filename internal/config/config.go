// Package config loads schema files: YAML documents carrying the schema and
// its migration settings, or plain .sql scripts.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/beyond5959/go-schema-sync/internal/drift"
	"github.com/beyond5959/go-schema-sync/internal/migrate"
	"github.com/beyond5959/go-schema-sync/internal/sqlparse"
)

// RetryConfig configures the retry policy of a migration run.
type RetryConfig struct {
	MaxAttempts int      `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	Patterns    []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
}

// SchemaFile is the on-disk form of an application schema.
type SchemaFile struct {
	Name           string      `json:"name,omitempty" yaml:"name,omitempty"`
	Behavior       string      `json:"behavior,omitempty" yaml:"behavior,omitempty"`
	Retry          RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
	Statements     []string    `json:"statements,omitempty" yaml:"statements,omitempty"`
	StatementsFile string      `json:"statementsFile,omitempty" yaml:"statementsFile,omitempty"`
	InitialData    []string    `json:"initialData,omitempty" yaml:"initialData,omitempty"`
}

// Load reads a schema file. Files ending in .sql are read as a script;
// everything else is parsed as YAML. A YAML statementsFile is resolved
// relative to the YAML file and its statements follow the inline ones.
func Load(path string) (*SchemaFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("config: schema path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read schema file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".sql") {
		return ParseSQL(baseName(path), string(data))
	}

	var file SchemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse schema file %s: %w", path, err)
	}
	if file.Name == "" {
		file.Name = baseName(path)
	}

	if file.StatementsFile != "" {
		scriptPath := file.StatementsFile
		if !filepath.IsAbs(scriptPath) {
			scriptPath = filepath.Join(filepath.Dir(path), scriptPath)
		}
		script, err := os.ReadFile(scriptPath)
		if err != nil {
			return nil, fmt.Errorf("config: read statements file: %w", err)
		}
		included, err := ParseSQL(file.Name, string(script))
		if err != nil {
			return nil, err
		}
		file.Statements = append(file.Statements, included.Statements...)
		file.InitialData = append(file.InitialData, included.InitialData...)
	}
	return &file, nil
}

// ParseSQL splits a script into statements. INSERT statements become
// initial data; everything else is a schema statement.
func ParseSQL(name, script string) (*SchemaFile, error) {
	stmts, err := sqlparse.Split(script)
	if err != nil {
		return nil, fmt.Errorf("config: split %s: %w", name, err)
	}
	file := &SchemaFile{
		Name:        name,
		Statements:  make([]string, 0, len(stmts)),
		InitialData: make([]string, 0),
	}
	for _, stmt := range stmts {
		parsed, err := sqlparse.Parse(stmt)
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", name, err)
		}
		if _, ok := parsed.(*sqlparse.Insert); ok {
			file.InitialData = append(file.InitialData, stmt)
			continue
		}
		file.Statements = append(file.Statements, stmt)
	}
	return file, nil
}

// Schema returns the declared schema.
func (f *SchemaFile) Schema() drift.DatabaseSchema {
	return drift.DatabaseSchema{
		Name:        f.Name,
		Statements:  append([]string(nil), f.Statements...),
		InitialData: append([]string(nil), f.InitialData...),
	}
}

// MigrateConfig builds the migrator configuration. A non-empty behavior
// overrides the one in the file.
func (f *SchemaFile) MigrateConfig(behavior string, logger *slog.Logger) (migrate.Config, error) {
	raw := strings.TrimSpace(behavior)
	if raw == "" {
		raw = f.Behavior
	}
	cfg := migrate.Config{Logger: logger}
	if strings.TrimSpace(raw) != "" {
		parsed, err := migrate.ParseBehavior(raw)
		if err != nil {
			return migrate.Config{}, fmt.Errorf("config: %w", err)
		}
		cfg.Behavior = parsed
	}

	cfg.Retry.MaxAttempts = f.Retry.MaxAttempts
	if f.Retry.MaxAttempts < 0 {
		return migrate.Config{}, fmt.Errorf("config: retry.maxAttempts must be positive, got %d", f.Retry.MaxAttempts)
	}
	if len(f.Retry.Patterns) > 0 {
		patterns, err := migrate.CompilePatterns(f.Retry.Patterns)
		if err != nil {
			return migrate.Config{}, fmt.Errorf("config: %w", err)
		}
		cfg.Retry.Patterns = patterns
	}
	return cfg, nil
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
