package sqlite

import (
	"fmt"
	"strings"

	"github.com/velmie/pipeline-outbox/internal/sqlstore"
)

const eventsTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT NOT NULL PRIMARY KEY,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	last_error TEXT NULL,
	scheduled_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	processed_at INTEGER NULL
)`

const observationsTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	category TEXT NOT NULL,
	wait_bucket_ms INTEGER NOT NULL,
	success INTEGER NOT NULL,
	observed_at INTEGER NOT NULL
)`

const patternsTemplate = `CREATE TABLE IF NOT EXISTS %[1]s (
	source TEXT NOT NULL,
	day_of_week INTEGER NOT NULL,
	hour_of_day INTEGER NOT NULL,
	failure_rate REAL NOT NULL,
	success_rate REAL NOT NULL,
	sample_size INTEGER NOT NULL,
	avg_latency_ms REAL NULL,
	last_updated INTEGER NOT NULL,
	PRIMARY KEY (source, day_of_week, hour_of_day)
)`

// SchemaStatements returns the DDL statements in execution order.
func SchemaStatements(opts ...Option) ([]string, error) {
	cfg, err := sqlstore.Apply(opts...)
	if err != nil {
		return nil, err
	}
	t := cfg.Tables

	return []string{
		fmt.Sprintf(eventsTemplate, t.Events),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (status, scheduled_at, created_at)", indexName(t.Events, "due"), t.Events),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (status, updated_at)", indexName(t.Events, "updated"), t.Events),
		fmt.Sprintf(observationsTemplate, t.Observations),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (observed_at)", indexName(t.Observations, "observed"), t.Observations),
		fmt.Sprintf(patternsTemplate, t.Patterns),
	}, nil
}

// Schema returns the DDL as a single script.
func Schema(opts ...Option) (string, error) {
	statements, err := SchemaStatements(opts...)
	if err != nil {
		return "", err
	}

	return strings.Join(statements, ";\n\n") + ";\n", nil
}

func indexName(table, suffix string) string {
	return "idx_" + strings.ReplaceAll(table, ".", "_") + "_" + suffix
}
