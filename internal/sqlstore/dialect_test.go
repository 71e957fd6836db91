package sqlstore

import "testing"

func TestRebind(t *testing.T) {
	query := "UPDATE t SET a = ? WHERE b = ? AND c = ?"
	if got := SQLite.Rebind(query); got != query {
		t.Fatalf("sqlite should keep ? placeholders, got %s", got)
	}
	if got := Postgres.Rebind(query); got != "UPDATE t SET a = $1 WHERE b = $2 AND c = $3" {
		t.Fatalf("unexpected postgres query: %s", got)
	}
}

func TestInsertIgnore(t *testing.T) {
	cols := []string{"a", "b"}
	if got := MySQL.InsertIgnore("t", cols); got != "INSERT IGNORE INTO t (a, b) VALUES (?, ?)" {
		t.Fatalf("unexpected mysql insert: %s", got)
	}
	if got := Postgres.InsertIgnore("t", cols); got != "INSERT INTO t (a, b) VALUES ($1, $2) ON CONFLICT DO NOTHING" {
		t.Fatalf("unexpected postgres insert: %s", got)
	}
}

func TestLimitedDelete(t *testing.T) {
	if got := MySQL.LimitedDelete("t", "id", "status = ?"); got != "DELETE FROM t WHERE status = ? ORDER BY id LIMIT ?" {
		t.Fatalf("unexpected mysql delete: %s", got)
	}
	want := "DELETE FROM t WHERE id IN (SELECT id FROM t WHERE status = $1 ORDER BY id LIMIT $2)"
	if got := Postgres.LimitedDelete("t", "id", "status = ?"); got != want {
		t.Fatalf("unexpected postgres delete: %s", got)
	}
}

func TestNewQueriesUseTable(t *testing.T) {
	q := newQueries(Postgres, "jobs_outbox")
	if q.claim != "UPDATE jobs_outbox SET status = $1, attempts = attempts + 1, updated_at = $2 WHERE id = $3 AND status = $4" {
		t.Fatalf("unexpected claim query: %s", q.claim)
	}
}
