package mysql

import (
	"fmt"
	"strings"

	"github.com/velmie/pipeline-outbox/internal/sqlstore"
)

const eventsTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id CHAR(36) NOT NULL,
	event_type VARCHAR(128) NOT NULL,
	payload %s NOT NULL,
	status VARCHAR(16) NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL,
	last_error VARCHAR(1024) NULL,
	scheduled_at BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	processed_at BIGINT NULL,
	PRIMARY KEY (id),
	INDEX idx_status_scheduled (status, scheduled_at, created_at),
	INDEX idx_status_updated (status, updated_at)
)`

const observationsTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT NOT NULL AUTO_INCREMENT,
	category VARCHAR(32) NOT NULL,
	wait_bucket_ms BIGINT NOT NULL,
	success TINYINT NOT NULL,
	observed_at BIGINT NOT NULL,
	PRIMARY KEY (id),
	INDEX idx_observed_at (observed_at)
)`

const patternsTemplate = `CREATE TABLE IF NOT EXISTS %s (
	source VARCHAR(128) NOT NULL,
	day_of_week SMALLINT NOT NULL,
	hour_of_day SMALLINT NOT NULL,
	failure_rate DOUBLE NOT NULL,
	success_rate DOUBLE NOT NULL,
	sample_size INT NOT NULL,
	avg_latency_ms DOUBLE NULL,
	last_updated BIGINT NOT NULL,
	PRIMARY KEY (source, day_of_week, hour_of_day)
)`

const (
	payloadJSON   = "JSON"
	payloadBinary = "LONGBLOB"
)

// SchemaStatements returns the DDL statements with a JSON payload column.
func SchemaStatements(opts ...Option) ([]string, error) {
	return buildStatements(payloadJSON, opts...)
}

// Schema returns the DDL as a single script with a JSON payload column.
func Schema(opts ...Option) (string, error) {
	return buildSchema(payloadJSON, opts...)
}

// SchemaBinary returns the DDL with a LONGBLOB payload column, for payloads
// that should be stored byte for byte.
func SchemaBinary(opts ...Option) (string, error) {
	return buildSchema(payloadBinary, opts...)
}

func buildSchema(payloadType string, opts ...Option) (string, error) {
	statements, err := buildStatements(payloadType, opts...)
	if err != nil {
		return "", err
	}

	return strings.Join(statements, ";\n\n") + ";\n", nil
}

func buildStatements(payloadType string, opts ...Option) ([]string, error) {
	cfg, err := sqlstore.Apply(opts...)
	if err != nil {
		return nil, err
	}
	t := cfg.Tables

	return []string{
		fmt.Sprintf(eventsTemplate, t.Events, payloadType),
		fmt.Sprintf(observationsTemplate, t.Observations),
		fmt.Sprintf(patternsTemplate, t.Patterns),
	}, nil
}
