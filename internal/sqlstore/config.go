package sqlstore

const defaultCleanupLimit = 10000

// Config defines shared store behavior.
type Config struct {
	Tables Tables
	// CleanupLimit caps rows deleted per Cleanup call when the caller gives no limit.
	CleanupLimit int
}

func (c Config) withDefaults() (Config, error) {
	tables, err := c.Tables.Sanitize()
	if err != nil {
		return Config{}, err
	}
	c.Tables = tables
	if c.CleanupLimit <= 0 {
		c.CleanupLimit = defaultCleanupLimit
	}

	return c, nil
}

// Option configures a store.
type Option func(*Config)

// WithTables sets every table name at once. Empty names keep their defaults.
func WithTables(tables Tables) Option {
	return func(c *Config) {
		c.Tables = tables
	}
}

// WithTable sets the outbox events table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Tables.Events = name
	}
}

// WithCleanupLimit sets the default number of rows deleted per Cleanup call.
func WithCleanupLimit(limit int) Option {
	return func(c *Config) {
		c.CleanupLimit = limit
	}
}

// Apply builds a Config from opts.
func Apply(opts ...Option) (Config, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg.withDefaults()
}
