package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	Name string
	// Numbered rewrites ? placeholders to $1, $2, ...
	Numbered bool
	// InsertIgnoreMySQL uses INSERT IGNORE instead of ON CONFLICT DO NOTHING.
	InsertIgnoreMySQL bool
	// DeleteLimit supports DELETE ... ORDER BY ... LIMIT directly.
	DeleteLimit bool
}

var (
	MySQL    = Dialect{Name: "mysql", InsertIgnoreMySQL: true, DeleteLimit: true}
	Postgres = Dialect{Name: "postgres", Numbered: true}
	SQLite   = Dialect{Name: "sqlite"}
)

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))

			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

// InsertIgnore builds an insert that silently skips rows hitting a unique key.
func (d Dialect) InsertIgnore(table string, columns []string) string {
	cols := strings.Join(columns, ", ")
	values := makePlaceholders(len(columns))
	if d.InsertIgnoreMySQL {
		return d.Rebind(fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, cols, values))
	}

	return d.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING", table, cols, values))
}

// LimitedDelete builds a delete of at most ? rows matching where, oldest key first.
// The limit is the last placeholder.
func (d Dialect) LimitedDelete(table, key, where string) string {
	// #nosec G201 -- table and column names are internal and sanitized.
	if d.DeleteLimit {
		return d.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s ORDER BY %s LIMIT ?", table, where, key))
	}

	return d.Rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE %s IN (SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT ?)",
		table, key, key, table, where, key,
	))
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	buf := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			buf = append(buf, ',', ' ')
		}
		buf = append(buf, '?')
	}

	return string(buf)
}
