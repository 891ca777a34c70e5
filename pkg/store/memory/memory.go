// Package memory is an in-memory event store for tests and dry runs.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/MrCodeEU/facegate/pkg/events"
)

// Store is an in-memory append-only event log.
type Store struct {
	mu        sync.RWMutex
	events    []events.AccessEvent
	trainings []events.TrainingSessionRecord
	closed    bool
}

var (
	_ events.Store          = (*Store)(nil)
	_ events.OutcomeCounter = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{}
}

func (s *Store) InsertAccessEvent(_ context.Context, ev events.AccessEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, events.Persist("insert_access_event", events.ErrStoreUnavailable)
	}
	if !ev.EventType.Valid() {
		return 0, events.Persist("insert_access_event", events.ErrWriteRejected)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.ID = int64(len(s.events) + 1)
	ev.Extra = maps.Clone(ev.Extra)
	s.events = append(s.events, ev)
	return ev.ID, nil
}

func (s *Store) InsertTrainingSession(_ context.Context, rec events.TrainingSessionRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, events.Persist("insert_training_session", events.ErrStoreUnavailable)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	rec.ID = int64(len(s.trainings) + 1)
	s.trainings = append(s.trainings, rec)
	return rec.ID, nil
}

func (s *Store) QueryEvents(_ context.Context, f events.Filter, limit int) ([]events.AccessEvent, error) {
	if limit <= 0 {
		return nil, events.Query("query_events", events.ErrInvalidFilter)
	}
	if err := f.Validate(); err != nil {
		return nil, events.Query("query_events", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, events.Query("query_events", events.ErrStoreUnavailable)
	}

	out := []events.AccessEvent{}
	for _, ev := range s.events {
		if f.Match(ev) {
			out = append(out, ev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountEvents(_ context.Context, f events.Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, events.Query("count_events", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, events.Query("count_events", events.ErrStoreUnavailable)
	}

	var n int64
	for _, ev := range s.events {
		if f.Match(ev) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountOutcomes(_ context.Context) (events.OutcomeCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return events.OutcomeCounts{}, events.Query("count_outcomes", events.ErrStoreUnavailable)
	}

	out := events.OutcomeCounts{GrantedByIdentity: map[string]int64{}}
	for _, ev := range s.events {
		if !ev.Granted {
			out.Denied++
			continue
		}
		out.Granted++
		if ev.Identity != nil {
			out.GrantedByIdentity[*ev.Identity]++
		}
	}
	return out, nil
}

func (s *Store) QueryTrainingSessions(_ context.Context, limit int) ([]events.TrainingSessionRecord, error) {
	if limit <= 0 {
		return nil, events.Query("query_training_sessions", events.ErrInvalidFilter)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, events.Query("query_training_sessions", events.ErrStoreUnavailable)
	}

	out := make([]events.TrainingSessionRecord, 0, min(limit, len(s.trainings)))
	for i := len(s.trainings) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.trainings[i])
	}
	return out, nil
}

// Close makes every later call fail with ErrStoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Events returns a copy of all stored events in insertion order.
func (s *Store) Events() []events.AccessEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.AccessEvent, len(s.events))
	copy(out, s.events)
	return out
}
