package sqlstore

import (
	"fmt"
	"strings"
)

// SanitizeTableName accepts letters, digits and underscores, optionally schema-qualified.
func SanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	parts := strings.Split(name, ".")
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				continue
			}

			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}

// Tables names the tables of one deployment.
type Tables struct {
	Events       string
	Observations string
	Patterns     string
}

// DefaultTables returns the standard table names.
func DefaultTables() Tables {
	return Tables{
		Events:       "outbox_events",
		Observations: "retry_observations",
		Patterns:     "source_patterns",
	}
}

func (t Tables) withDefaults() Tables {
	def := DefaultTables()
	if t.Events == "" {
		t.Events = def.Events
	}
	if t.Observations == "" {
		t.Observations = def.Observations
	}
	if t.Patterns == "" {
		t.Patterns = def.Patterns
	}

	return t
}

// Sanitize validates every table name.
func (t Tables) Sanitize() (Tables, error) {
	t = t.withDefaults()
	for _, name := range []string{t.Events, t.Observations, t.Patterns} {
		if _, err := SanitizeTableName(name); err != nil {
			return Tables{}, err
		}
	}

	return t, nil
}
