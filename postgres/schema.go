package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/velmie/pipeline-outbox/internal/sqlstore"
)

const eventsTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(36) PRIMARY KEY,
	event_type VARCHAR(128) NOT NULL,
	payload JSONB NOT NULL,
	status VARCHAR(16) NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	last_error VARCHAR(1024) NULL,
	scheduled_at BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	processed_at BIGINT NULL
)`

const observationsTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	category VARCHAR(32) NOT NULL,
	wait_bucket_ms BIGINT NOT NULL,
	success SMALLINT NOT NULL,
	observed_at BIGINT NOT NULL
)`

const patternsTemplate = `CREATE TABLE IF NOT EXISTS %s (
	source VARCHAR(128) NOT NULL,
	day_of_week SMALLINT NOT NULL,
	hour_of_day SMALLINT NOT NULL,
	failure_rate DOUBLE PRECISION NOT NULL,
	success_rate DOUBLE PRECISION NOT NULL,
	sample_size INTEGER NOT NULL,
	avg_latency_ms DOUBLE PRECISION NULL,
	last_updated BIGINT NOT NULL,
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

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, opts ...Option) error {
	statements, err := SchemaStatements(opts...)
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("outbox postgres: migrate failed: %w", err)
		}
	}

	return nil
}

func indexName(table, suffix string) string {
	return "idx_" + strings.ReplaceAll(table, ".", "_") + "_" + suffix
}
