package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/pipeline-outbox/sourcepattern"
)

var patternColumns = []string{
	"source", "day_of_week", "hour_of_day", "failure_rate", "success_rate",
	"sample_size", "avg_latency_ms", "last_updated",
}

// PatternStore is a sourcepattern.Store over database/sql.
//
// Apply blends an observation with a single UPDATE computed in SQL, so
// concurrent writers never lose an increment. A missing row is created with
// an insert that ignores conflicts; losing that race falls back to the UPDATE.
type PatternStore struct {
	db            *sql.DB
	dialect       Dialect
	update        string
	updateLatency string
	insert        string
	list          string
	purge         string
}

var _ sourcepattern.Store = (*PatternStore)(nil)

// NewPatternStore constructs a PatternStore for dialect.
func NewPatternStore(db *sql.DB, dialect Dialect, opts ...Option) (*PatternStore, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	cfg, err := Apply(opts...)
	if err != nil {
		return nil, err
	}
	table := cfg.Tables.Patterns

	const rates = "failure_rate = failure_rate * ? + ?, success_rate = success_rate * ? + ?, " +
		"sample_size = sample_size + 1, last_updated = ?"
	const key = "WHERE source = ? AND day_of_week = ? AND hour_of_day = ?"

	// #nosec G201 -- table name is sanitized.
	return &PatternStore{
		db:      db,
		dialect: dialect,
		update:  dialect.Rebind(fmt.Sprintf("UPDATE %s SET %s %s", table, rates, key)),
		updateLatency: dialect.Rebind(fmt.Sprintf(
			"UPDATE %s SET %s, avg_latency_ms = CASE WHEN avg_latency_ms IS NULL THEN ? ELSE avg_latency_ms * ? + ? END %s",
			table, rates, key,
		)),
		insert: dialect.InsertIgnore(table, patternColumns),
		list: dialect.Rebind(fmt.Sprintf(
			"SELECT source, day_of_week, hour_of_day, failure_rate, success_rate, sample_size, avg_latency_ms, last_updated "+
				"FROM %s WHERE source = ?",
			table,
		)),
		purge: dialect.Rebind(fmt.Sprintf("DELETE FROM %s WHERE sample_size < ? AND last_updated < ?", table)),
	}, nil
}

// Apply implements sourcepattern.Store.
func (s *PatternStore) Apply(ctx context.Context, key sourcepattern.Key, obs sourcepattern.Observation, alpha float64) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if alpha <= 0 || alpha > 1 {
		return sourcepattern.ErrInvalidAlpha
	}

	updated, err := s.applyUpdate(ctx, key, obs, alpha)
	if err != nil || updated {
		return err
	}

	p := sourcepattern.NewPattern(key, obs)
	day, hour := key.Columns()
	var latency sql.NullFloat64
	if p.AvgLatencyMs != nil {
		latency = sql.NullFloat64{Float64: *p.AvgLatencyMs, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, s.insert,
		key.Source, day, hour, p.FailureRate, p.SuccessRate, p.SampleSize, latency, toMillis(p.LastUpdated))
	if err != nil {
		return fmt.Errorf("sourcepattern %s: insert failed: %w", s.dialect.Name, err)
	}
	if inserted, err := res.RowsAffected(); err == nil && inserted > 0 {
		return nil
	}

	updated, err = s.applyUpdate(ctx, key, obs, alpha)
	if err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("sourcepattern %s: pattern %s vanished during update", s.dialect.Name, key)
	}

	return nil
}

func (s *PatternStore) applyUpdate(ctx context.Context, key sourcepattern.Key, obs sourcepattern.Observation, alpha float64) (bool, error) {
	failure := 1.0
	if obs.Success {
		failure = 0
	}
	keep := 1 - alpha
	day, hour := key.Columns()

	args := []any{keep, failure * alpha, keep, (1 - failure) * alpha, toMillis(obs.At)}
	query := s.update
	if obs.Latency != nil {
		ms := float64(*obs.Latency) / float64(time.Millisecond)
		args = append(args, ms, keep, ms*alpha)
		query = s.updateLatency
	}
	args = append(args, key.Source, day, hour)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("sourcepattern %s: update failed: %w", s.dialect.Name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sourcepattern %s: update rows failed: %w", s.dialect.Name, err)
	}

	return affected > 0, nil
}

// List implements sourcepattern.Store.
func (s *PatternStore) List(ctx context.Context, source string) ([]sourcepattern.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, s.list, source)
	if err != nil {
		return nil, fmt.Errorf("sourcepattern %s: list failed: %w", s.dialect.Name, err)
	}
	defer rows.Close()

	var out []sourcepattern.Pattern
	for rows.Next() {
		var (
			src         string
			day, hour   int
			p           sourcepattern.Pattern
			latency     sql.NullFloat64
			lastUpdated int64
		)
		if err := rows.Scan(&src, &day, &hour, &p.FailureRate, &p.SuccessRate, &p.SampleSize, &latency, &lastUpdated); err != nil {
			return nil, fmt.Errorf("sourcepattern %s: scan failed: %w", s.dialect.Name, err)
		}
		p.Key = sourcepattern.KeyFromColumns(src, day, hour)
		p.LastUpdated = fromMillis(lastUpdated)
		if latency.Valid {
			v := latency.Float64
			p.AvgLatencyMs = &v
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sourcepattern %s: rows failed: %w", s.dialect.Name, err)
	}
	sourcepattern.SortPatterns(out)

	return out, nil
}

// Purge implements sourcepattern.Store.
func (s *PatternStore) Purge(ctx context.Context, minSamples int, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.purge, minSamples, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("sourcepattern %s: purge failed: %w", s.dialect.Name, err)
	}

	return res.RowsAffected()
}
