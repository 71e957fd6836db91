package mysql

import (
	"errors"

	"github.com/velmie/pipeline-outbox/internal/sqlstore"
)

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = sqlstore.ErrDBRequired
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = sqlstore.ErrTableNameRequired
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = sqlstore.ErrInvalidTableName
	// ErrLockNameRequired is returned when a lock is requested without a name.
	ErrLockNameRequired = errors.New("outbox mysql: lock name is required")
)
