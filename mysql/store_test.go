package mysql

import (
	"database/sql"
	"testing"
)

func TestNewStoreRequiresDB(t *testing.T) {
	if _, err := NewStore(nil); err != ErrDBRequired {
		t.Fatalf("expected ErrDBRequired, got %v", err)
	}
	if _, err := NewObservationLog(nil); err != ErrDBRequired {
		t.Fatalf("expected ErrDBRequired, got %v", err)
	}
	if _, err := NewPatternStore(nil); err != ErrDBRequired {
		t.Fatalf("expected ErrDBRequired, got %v", err)
	}
}

func TestNewStoreTableName(t *testing.T) {
	store, err := NewStore(&sql.DB{}, WithTable("jobs_outbox"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if store.Table() != "jobs_outbox" {
		t.Fatalf("unexpected table %q", store.Table())
	}
	if _, err := NewStore(&sql.DB{}, WithTable("jobs outbox")); err == nil {
		t.Fatalf("expected invalid table name error")
	}
}

func TestMustNewStorePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	MustNewStore(nil)
}
