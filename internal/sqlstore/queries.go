package sqlstore

import "fmt"

const eventColumns = "id, event_type, payload, status, attempts, max_attempts, last_error, scheduled_at, created_at, updated_at, processed_at"

type queries struct {
	insert       string
	selectByID   string
	listDue      string
	claim        string
	complete     string
	retry        string
	fail         string
	reclaim      string
	requeue      string
	countStatus  string
	due          string
	cleanupDone  string
	cleanupError string
}

func newQueries(d Dialect, table string) queries {
	// #nosec G201 -- table name is sanitized.
	return queries{
		insert: d.Rebind(fmt.Sprintf(
			"INSERT INTO %s (id, event_type, payload, status, attempts, max_attempts, last_error, scheduled_at, created_at, updated_at) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			table,
		)),
		selectByID: d.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", eventColumns, table)),
		listDue: d.Rebind(fmt.Sprintf(
			"SELECT %s FROM %s WHERE status = ? AND scheduled_at <= ? ORDER BY scheduled_at ASC, created_at ASC, id ASC LIMIT ?",
			eventColumns,
			table,
		)),
		claim: d.Rebind(fmt.Sprintf(
			"UPDATE %s SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ? AND status = ?",
			table,
		)),
		complete: d.Rebind(fmt.Sprintf(
			"UPDATE %s SET status = ?, processed_at = ?, last_error = NULL, updated_at = ? WHERE id = ? AND status = ?",
			table,
		)),
		retry: d.Rebind(fmt.Sprintf(
			"UPDATE %s SET status = ?, last_error = ?, scheduled_at = ?, updated_at = ? WHERE id = ? AND status = ?",
			table,
		)),
		fail: d.Rebind(fmt.Sprintf(
			"UPDATE %s SET status = ?, last_error = ?, updated_at = ? WHERE id = ? AND status = ?",
			table,
		)),
		reclaim: d.Rebind(fmt.Sprintf(
			"UPDATE %s SET status = ?, last_error = ?, updated_at = ? WHERE status = ? AND updated_at < ?",
			table,
		)),
		requeue: d.Rebind(fmt.Sprintf(
			"UPDATE %s SET status = ?, attempts = 0, scheduled_at = ?, updated_at = ? WHERE id = ? AND status = ?",
			table,
		)),
		countStatus: fmt.Sprintf("SELECT status, COUNT(*) FROM %s GROUP BY status", table),
		due: d.Rebind(fmt.Sprintf(
			"SELECT COUNT(*), MIN(scheduled_at) FROM %s WHERE status = ? AND scheduled_at <= ?",
			table,
		)),
		cleanupDone:  d.LimitedDelete(table, "id", "status = ? AND processed_at IS NOT NULL AND processed_at <= ?"),
		cleanupError: d.LimitedDelete(table, "id", "status = ? AND updated_at <= ?"),
	}
}
