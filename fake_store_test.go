package outbox

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeExecutor struct {
	calls int
}

func (f *fakeExecutor) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	f.calls++
	return fakeResult{}, nil
}

// memStore mirrors the conditional semantics of the SQL stores.
type memStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]Event
	// beforeClaim runs inside Claim before the status check.
	beforeClaim func(id uuid.UUID)
	listErr     error
	completeErr error
	statsCalls  int
}

func newMemStore() *memStore {
	return &memStore{events: make(map[uuid.UUID]Event)}
}

func (s *memStore) Insert(_ context.Context, exec Executor, event Event) error {
	if _, err := exec.ExecContext(context.Background(), "insert"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
	return nil
}

func (s *memStore) put(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
}

func (s *memStore) get(id uuid.UUID) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id]
}

func (s *memStore) ListDue(_ context.Context, now time.Time, limit int) ([]Event, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Event
	for _, e := range s.events {
		if e.Status == StatusPending && !e.ScheduledAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memStore) Claim(_ context.Context, id uuid.UUID, now time.Time) (ClaimResult, error) {
	if s.beforeClaim != nil {
		s.beforeClaim(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.Status != StatusPending {
		return AlreadyClaimed(), nil
	}
	e.Status = StatusProcessing
	e.Attempts++
	e.UpdatedAt = now
	s.events[id] = e
	return Claimed(e), nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return e, nil
}

func (s *memStore) transition(id uuid.UUID, fn func(*Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.Status != StatusProcessing {
		return ErrStaleClaim
	}
	fn(&e)
	s.events[id] = e
	return nil
}

func (s *memStore) Complete(_ context.Context, id uuid.UUID, now time.Time) error {
	if s.completeErr != nil {
		return s.completeErr
	}
	return s.transition(id, func(e *Event) {
		e.Status = StatusCompleted
		e.ProcessedAt = &now
		e.LastError = ""
		e.UpdatedAt = now
	})
}

func (s *memStore) Retry(_ context.Context, id uuid.UUID, lastError string, scheduledAt, now time.Time) error {
	return s.transition(id, func(e *Event) {
		e.Status = StatusPending
		e.LastError = lastError
		e.ScheduledAt = scheduledAt
		e.UpdatedAt = now
	})
}

func (s *memStore) Fail(_ context.Context, id uuid.UUID, lastError string, now time.Time) error {
	return s.transition(id, func(e *Event) {
		e.Status = StatusFailed
		e.LastError = lastError
		e.UpdatedAt = now
	})
}

func (s *memStore) ReclaimStuck(_ context.Context, cutoff, now time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.events {
		if e.Status == StatusProcessing && e.UpdatedAt.Before(cutoff) {
			e.Status = StatusPending
			e.LastError = reason
			e.UpdatedAt = now
			s.events[id] = e
			n++
		}
	}
	return n, nil
}

func (s *memStore) Requeue(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.Status != StatusFailed {
		return false, nil
	}
	e.Status = StatusPending
	e.Attempts = 0
	e.ScheduledAt = now
	e.UpdatedAt = now
	s.events[id] = e
	return true, nil
}

func (s *memStore) Stats(_ context.Context, now time.Time) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statsCalls++
	var st Stats
	for _, e := range s.events {
		switch e.Status {
		case StatusPending:
			st.Pending++
			if !e.ScheduledAt.After(now) {
				st.Due++
			}
		case StatusProcessing:
			st.Processing++
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		}
	}
	return st, nil
}

func (s *memStore) Cleanup(_ context.Context, opts CleanupOptions) (CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res CleanupResult
	for id, e := range s.events {
		switch {
		case e.Status == StatusCompleted && e.ProcessedAt != nil && !e.ProcessedAt.After(opts.Before):
			delete(s.events, id)
			res.Completed++
		case opts.IncludeFailed && e.Status == StatusFailed && !e.UpdatedAt.After(opts.Before):
			delete(s.events, id)
			res.Failed++
		}
	}
	return res, nil
}

func pendingEvent(eventType string, scheduledAt time.Time) Event {
	return Event{
		ID:          uuid.Must(uuid.NewV7()),
		EventType:   eventType,
		Payload:     []byte(`{"ok":true}`),
		Status:      StatusPending,
		MaxAttempts: DefaultMaxAttempts,
		ScheduledAt: scheduledAt,
		CreatedAt:   scheduledAt,
		UpdatedAt:   scheduledAt,
	}
}
