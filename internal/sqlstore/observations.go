package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/pipeline-outbox/retrylearn"
)

// ObservationLog is a retrylearn.ObservationLog over database/sql.
type ObservationLog struct {
	db      *sql.DB
	dialect Dialect
	insert  string
	stats   string
	prune   string
}

var _ retrylearn.ObservationLog = (*ObservationLog)(nil)

// NewObservationLog constructs an ObservationLog for dialect.
func NewObservationLog(db *sql.DB, dialect Dialect, opts ...Option) (*ObservationLog, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	cfg, err := Apply(opts...)
	if err != nil {
		return nil, err
	}
	table := cfg.Tables.Observations

	// #nosec G201 -- table name is sanitized.
	return &ObservationLog{
		db:      db,
		dialect: dialect,
		insert: dialect.Rebind(fmt.Sprintf(
			"INSERT INTO %s (category, wait_bucket_ms, success, observed_at) VALUES (?, ?, ?, ?)",
			table,
		)),
		stats: dialect.Rebind(fmt.Sprintf(
			"SELECT category, wait_bucket_ms, COUNT(*), SUM(success) FROM %s WHERE observed_at >= ? "+
				"GROUP BY category, wait_bucket_ms",
			table,
		)),
		prune: dialect.Rebind(fmt.Sprintf("DELETE FROM %s WHERE observed_at < ?", table)),
	}, nil
}

// Append implements retrylearn.ObservationLog.
func (l *ObservationLog) Append(ctx context.Context, obs retrylearn.Observation) error {
	success := 0
	if obs.Success {
		success = 1
	}

	_, err := l.db.ExecContext(ctx, l.insert,
		string(obs.Category), obs.WaitBucket.Milliseconds(), success, toMillis(obs.ObservedAt))
	if err != nil {
		return fmt.Errorf("retrylearn %s: append failed: %w", l.dialect.Name, err)
	}

	return nil
}

// BucketStats implements retrylearn.ObservationLog.
func (l *ObservationLog) BucketStats(ctx context.Context, since time.Time) ([]retrylearn.BucketStat, error) {
	rows, err := l.db.QueryContext(ctx, l.stats, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("retrylearn %s: aggregate failed: %w", l.dialect.Name, err)
	}
	defer rows.Close()

	var out []retrylearn.BucketStat
	for rows.Next() {
		var (
			category  string
			bucketMs  int64
			samples   int64
			successes sql.NullInt64
		)
		if err := rows.Scan(&category, &bucketMs, &samples, &successes); err != nil {
			return nil, fmt.Errorf("retrylearn %s: scan failed: %w", l.dialect.Name, err)
		}
		out = append(out, retrylearn.BucketStat{
			Category:  retrylearn.Category(category),
			Bucket:    time.Duration(bucketMs) * time.Millisecond,
			Samples:   int(samples),
			Successes: int(successes.Int64),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("retrylearn %s: rows failed: %w", l.dialect.Name, err)
	}

	return out, nil
}

// Prune deletes observations made before before.
func (l *ObservationLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, l.prune, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("retrylearn %s: prune failed: %w", l.dialect.Name, err)
	}

	return res.RowsAffected()
}
