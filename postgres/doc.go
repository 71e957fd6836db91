// Package postgres provides the PostgreSQL outbox backend on top of pgx.
//
// It shares the claim protocol of the MySQL backend: a plain SELECT lists due
// rows and a conditional UPDATE claims each one. Maintenance passes are
// serialized with session level advisory locks.
//
// The versioned schema lives in migrations/ and is applied with MigrateVersioned;
// Migrate creates the same tables directly and supports custom table names.
package postgres
