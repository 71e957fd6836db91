package sqlite

import "github.com/velmie/pipeline-outbox/internal/sqlstore"

// Tables names the tables of one deployment.
type Tables = sqlstore.Tables

// Option configures the SQLite stores.
type Option = sqlstore.Option

// DefaultTables returns the standard table names.
func DefaultTables() Tables {
	return sqlstore.DefaultTables()
}

// WithTable sets the outbox events table name.
func WithTable(name string) Option {
	return sqlstore.WithTable(name)
}

// WithTables sets every table name. Empty names keep their defaults.
func WithTables(tables Tables) Option {
	return sqlstore.WithTables(tables)
}

// WithCleanupLimit sets the default number of rows deleted per Cleanup call.
func WithCleanupLimit(limit int) Option {
	return sqlstore.WithCleanupLimit(limit)
}
