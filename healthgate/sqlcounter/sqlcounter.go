// Package sqlcounter answers health gate counters with operator-supplied SQL.
//
// Every query returns a single count and takes two positional parameters,
// the inclusive start and the exclusive end of the window, written in the
// placeholder syntax of the target driver.
package sqlcounter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/velmie/pipeline-outbox/healthgate"
)

// Bind selects how window bounds are passed to queries.
type Bind string

const (
	// BindTime passes time.Time values.
	BindTime Bind = "time"
	// BindUnixMillis passes int64 unix milliseconds.
	BindUnixMillis Bind = "unix_millis"
)

var (
	// ErrNoQuery is returned when a metric has no configured query.
	ErrNoQuery = errors.New("sqlcounter: no query configured for metric")
	// ErrUnknownMetric is returned when a config names a metric no check reads.
	ErrUnknownMetric = errors.New("sqlcounter: unknown metric")
	// ErrInvalidBind is returned for an unsupported bind mode.
	ErrInvalidBind = errors.New("sqlcounter: invalid bind mode")
)

// Config is the YAML shape of a query file.
type Config struct {
	Bind    Bind                         `yaml:"bind"`
	Queries map[healthgate.Metric]string `yaml:"queries"`
}

// Validate checks the bind mode and metric names.
func (c Config) Validate() error {
	switch c.Bind {
	case "", BindTime, BindUnixMillis:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBind, c.Bind)
	}

	known := make(map[healthgate.Metric]struct{})
	for _, m := range healthgate.Metrics() {
		known[m] = struct{}{}
	}
	for m, q := range c.Queries {
		if _, ok := known[m]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownMetric, m)
		}
		if q == "" {
			return fmt.Errorf("sqlcounter: empty query for %q", m)
		}
	}

	return nil
}

// ParseConfig decodes and validates a YAML query file.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("sqlcounter: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadConfig reads a YAML query file from path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("sqlcounter: read config: %w", err)
	}

	return ParseConfig(data)
}

// Source is a healthgate.CounterSource over database/sql.
type Source struct {
	db  *sql.DB
	cfg Config
}

// New returns a Source running the queries of cfg against db.
func New(db *sql.DB, cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Bind == "" {
		cfg.Bind = BindTime
	}

	return &Source{db: db, cfg: cfg}, nil
}

// Count implements healthgate.CounterSource. A zero window start binds the unix epoch.
func (s *Source) Count(ctx context.Context, metric healthgate.Metric, window healthgate.Window) (int64, error) {
	query, ok := s.cfg.Queries[metric]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoQuery, metric)
	}

	from := window.From
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}

	var n sql.NullInt64
	if err := s.db.QueryRowContext(ctx, query, s.bind(from), s.bind(window.To)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlcounter: count %s: %w", metric, err)
	}

	return n.Int64, nil
}

func (s *Source) bind(t time.Time) any {
	if s.cfg.Bind == BindUnixMillis {
		return t.UnixMilli()
	}

	return t.UTC()
}
