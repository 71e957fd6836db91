// Package sqlstore implements the outbox, observation log and pattern store
// contracts over database/sql. The backend packages pick a Dialect and
// provide the schema.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/velmie/pipeline-outbox"
)

// Outbox is an outbox.Store over database/sql.
type Outbox struct {
	db      *sql.DB
	dialect Dialect
	cfg     Config
	queries queries
}

var _ outbox.Store = (*Outbox)(nil)

// NewOutbox constructs an Outbox for dialect.
func NewOutbox(db *sql.DB, dialect Dialect, opts ...Option) (*Outbox, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	cfg, err := Apply(opts...)
	if err != nil {
		return nil, err
	}

	return &Outbox{
		db:      db,
		dialect: dialect,
		cfg:     cfg,
		queries: newQueries(dialect, cfg.Tables.Events),
	}, nil
}

// DB returns the underlying handle.
func (s *Outbox) DB() *sql.DB {
	return s.db
}

// Table returns the events table name.
func (s *Outbox) Table() string {
	return s.cfg.Tables.Events
}

// Insert implements outbox.Store.
func (s *Outbox) Insert(ctx context.Context, exec outbox.Executor, event outbox.Event) error {
	if exec == nil {
		return outbox.ErrExecutorRequired
	}
	if err := event.Validate(); err != nil {
		return err
	}

	_, err := exec.ExecContext(
		ctx,
		s.queries.insert,
		event.ID.String(),
		event.EventType,
		string(event.Payload),
		string(event.Status),
		event.Attempts,
		event.MaxAttempts,
		nullString(event.LastError),
		toMillis(event.ScheduledAt),
		toMillis(event.CreatedAt),
		toMillis(event.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("outbox %s: insert failed: %w", s.dialect.Name, err)
	}

	return nil
}

// ListDue implements outbox.Store.
func (s *Outbox) ListDue(ctx context.Context, now time.Time, limit int) ([]outbox.Event, error) {
	if limit <= 0 {
		return nil, outbox.ErrInvalidBatchSize
	}

	rows, err := s.db.QueryContext(ctx, s.queries.listDue, string(outbox.StatusPending), toMillis(now), limit)
	if err != nil {
		return nil, fmt.Errorf("outbox %s: select due failed: %w", s.dialect.Name, err)
	}
	defer rows.Close()

	events := make([]outbox.Event, 0, limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox %s: scan failed: %w", s.dialect.Name, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox %s: rows failed: %w", s.dialect.Name, err)
	}

	return events, nil
}

// Claim implements outbox.Store. The conditional update is the only
// synchronization between workers: exactly one caller sees an affected row.
func (s *Outbox) Claim(ctx context.Context, id uuid.UUID, now time.Time) (outbox.ClaimResult, error) {
	affected, err := s.exec(ctx, "claim", s.queries.claim,
		string(outbox.StatusProcessing), toMillis(now), id.String(), string(outbox.StatusPending))
	if err != nil {
		return outbox.ClaimResult{}, err
	}
	if affected == 0 {
		return outbox.AlreadyClaimed(), nil
	}

	event, err := s.Get(ctx, id)
	if err != nil {
		return outbox.ClaimResult{}, err
	}

	return outbox.Claimed(event), nil
}

// Get implements outbox.Store.
func (s *Outbox) Get(ctx context.Context, id uuid.UUID) (outbox.Event, error) {
	event, err := scanEvent(s.db.QueryRowContext(ctx, s.queries.selectByID, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return outbox.Event{}, outbox.ErrEventNotFound
	}
	if err != nil {
		return outbox.Event{}, fmt.Errorf("outbox %s: get failed: %w", s.dialect.Name, err)
	}

	return event, nil
}

// Complete implements outbox.Store.
func (s *Outbox) Complete(ctx context.Context, id uuid.UUID, now time.Time) error {
	ms := toMillis(now)

	return s.transition(ctx, "complete", s.queries.complete,
		string(outbox.StatusCompleted), ms, ms, id.String(), string(outbox.StatusProcessing))
}

// Retry implements outbox.Store.
func (s *Outbox) Retry(ctx context.Context, id uuid.UUID, lastError string, scheduledAt, now time.Time) error {
	return s.transition(ctx, "retry", s.queries.retry,
		string(outbox.StatusPending), nullString(lastError), toMillis(scheduledAt), toMillis(now),
		id.String(), string(outbox.StatusProcessing))
}

// Fail implements outbox.Store.
func (s *Outbox) Fail(ctx context.Context, id uuid.UUID, lastError string, now time.Time) error {
	return s.transition(ctx, "fail", s.queries.fail,
		string(outbox.StatusFailed), nullString(lastError), toMillis(now), id.String(), string(outbox.StatusProcessing))
}

// ReclaimStuck implements outbox.Store.
func (s *Outbox) ReclaimStuck(ctx context.Context, cutoff, now time.Time, reason string) (int64, error) {
	return s.exec(ctx, "reclaim", s.queries.reclaim,
		string(outbox.StatusPending), nullString(reason), toMillis(now),
		string(outbox.StatusProcessing), toMillis(cutoff))
}

// Requeue implements outbox.Store.
func (s *Outbox) Requeue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	ms := toMillis(now)
	affected, err := s.exec(ctx, "requeue", s.queries.requeue,
		string(outbox.StatusPending), ms, ms, id.String(), string(outbox.StatusFailed))
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// Stats implements outbox.Store.
func (s *Outbox) Stats(ctx context.Context, now time.Time) (outbox.Stats, error) {
	var stats outbox.Stats

	rows, err := s.db.QueryContext(ctx, s.queries.countStatus)
	if err != nil {
		return stats, fmt.Errorf("outbox %s: stats failed: %w", s.dialect.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("outbox %s: stats scan failed: %w", s.dialect.Name, err)
		}
		switch outbox.Status(status) {
		case outbox.StatusPending:
			stats.Pending = count
		case outbox.StatusProcessing:
			stats.Processing = count
		case outbox.StatusCompleted:
			stats.Completed = count
		case outbox.StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("outbox %s: stats rows failed: %w", s.dialect.Name, err)
	}

	var oldest sql.NullInt64
	if err := s.db.QueryRowContext(ctx, s.queries.due, string(outbox.StatusPending), toMillis(now)).Scan(&stats.Due, &oldest); err != nil {
		return stats, fmt.Errorf("outbox %s: due stats failed: %w", s.dialect.Name, err)
	}
	if oldest.Valid {
		stats.OldestDueAge = now.Sub(fromMillis(oldest.Int64))
	}

	return stats, nil
}

// Cleanup implements outbox.Store. COMPLETED rows are matched on processed_at,
// FAILED rows on updated_at, and only when IncludeFailed is set.
func (s *Outbox) Cleanup(ctx context.Context, opts outbox.CleanupOptions) (outbox.CleanupResult, error) {
	if opts.Before.IsZero() {
		return outbox.CleanupResult{}, outbox.ErrCleanupBeforeRequired
	}
	limit := opts.Limit
	if limit == 0 {
		limit = s.cfg.CleanupLimit
	}
	if limit < 0 {
		return outbox.CleanupResult{}, outbox.ErrCleanupLimitInvalid
	}

	before := toMillis(opts.Before)
	completed, err := s.exec(ctx, "cleanup", s.queries.cleanupDone, string(outbox.StatusCompleted), before, limit)
	if err != nil {
		return outbox.CleanupResult{}, err
	}
	remaining := int64(limit) - completed

	var failed int64
	if opts.IncludeFailed && remaining > 0 {
		failed, err = s.exec(ctx, "cleanup", s.queries.cleanupError, string(outbox.StatusFailed), before, remaining)
		if err != nil {
			return outbox.CleanupResult{}, err
		}
	}

	return outbox.CleanupResult{Completed: completed, Failed: failed}, nil
}

func (s *Outbox) transition(ctx context.Context, op, query string, args ...any) error {
	affected, err := s.exec(ctx, op, query, args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return outbox.ErrStaleClaim
	}

	return nil
}

func (s *Outbox) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("outbox %s: %s failed: %w", s.dialect.Name, op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("outbox %s: %s rows failed: %w", s.dialect.Name, op, err)
	}

	return affected, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (outbox.Event, error) {
	var (
		id          string
		status      string
		payload     []byte
		lastError   sql.NullString
		scheduledAt int64
		createdAt   int64
		updatedAt   int64
		processedAt sql.NullInt64
		event       outbox.Event
	)

	if err := row.Scan(
		&id,
		&event.EventType,
		&payload,
		&status,
		&event.Attempts,
		&event.MaxAttempts,
		&lastError,
		&scheduledAt,
		&createdAt,
		&updatedAt,
		&processedAt,
	); err != nil {
		return outbox.Event{}, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return outbox.Event{}, fmt.Errorf("parse id %q: %w", id, err)
	}

	event.ID = parsed
	event.Payload = payload
	event.Status = outbox.Status(status)
	event.LastError = lastError.String
	event.ScheduledAt = fromMillis(scheduledAt)
	event.CreatedAt = fromMillis(createdAt)
	event.UpdatedAt = fromMillis(updatedAt)
	if processedAt.Valid {
		t := fromMillis(processedAt.Int64)
		event.ProcessedAt = &t
	}

	return event, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
