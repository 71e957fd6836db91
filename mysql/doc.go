// Package mysql provides the MySQL 8.0+ outbox backend.
//
// Workers list due rows with a plain SELECT and claim each one with a
// conditional UPDATE ... WHERE status = 'PENDING'; the affected row count
// decides the winner, so no transaction spans the handler call.
//
// See Schema for the DDL, Locker for GET_LOCK based maintenance locking,
// and NewCleanupMaintainer for periodic removal of finished events.
package mysql
