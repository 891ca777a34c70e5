package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrCodeEU/facegate/pkg/events"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *Store) {
	t.Helper()
	evs := []events.AccessEvent{
		{Identity: events.Ptr("ana"), Granted: true, EventType: events.EventSuccessfulAccess, Confidence: 40},
		{Identity: events.Ptr("ana"), Granted: false, EventType: events.EventFailedAccess, FailureReason: events.Ptr(events.ReasonLowConfidence), Confidence: 80},
		{Granted: false, EventType: events.EventFailedAccess, FailureReason: events.Ptr(events.ReasonUnknownPerson), Confidence: 99},
		{Identity: events.Ptr("luis"), Granted: true, EventType: events.EventSuccessfulAccess, Confidence: 30},
		{Identity: events.Ptr("ana"), Granted: true, EventType: events.EventSuccessfulAccess, Confidence: 35},
		{Granted: false, EventType: events.EventNoFaceDetected},
	}
	for i, ev := range evs {
		ev.Timestamp = base.Add(time.Duration(i) * time.Second)
		if _, err := s.InsertAccessEvent(context.Background(), ev); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
}

func TestStore_InsertAssignsIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	id1, err := s.InsertAccessEvent(ctx, events.AccessEvent{EventType: events.EventNoFaceDetected})
	if err != nil {
		t.Fatal(err)
	}
	id2, _ := s.InsertAccessEvent(ctx, events.AccessEvent{EventType: events.EventNoFaceDetected})
	if id1 != 1 || id2 != 2 {
		t.Errorf("expected ids 1 and 2, got %d and %d", id1, id2)
	}
	if s.Events()[0].Timestamp.IsZero() {
		t.Error("missing timestamp should be filled in")
	}
}

func TestStore_InsertRejectsUnknownType(t *testing.T) {
	s := New()
	_, err := s.InsertAccessEvent(context.Background(), events.AccessEvent{EventType: "bogus"})

	var pe *events.PersistError
	if !errors.As(err, &pe) || !errors.Is(err, events.ErrWriteRejected) {
		t.Errorf("expected PersistError wrapping ErrWriteRejected, got %v", err)
	}
}

func TestStore_QueryEvents(t *testing.T) {
	s := New()
	seed(t, s)
	ctx := context.Background()

	tests := []struct {
		name    string
		filter  events.Filter
		limit   int
		wantIDs []int64
	}{
		{"all most recent first", events.Filter{}, 10, []int64{6, 5, 4, 3, 2, 1}},
		{"limit", events.Filter{}, 2, []int64{6, 5}},
		{"identity", events.Filter{Identity: events.Ptr("ana")}, 10, []int64{5, 2, 1}},
		{"identity and granted", events.Filter{Identity: events.Ptr("ana"), Granted: events.Ptr(true)}, 10, []int64{5, 1}},
		{"denied", events.Filter{Granted: events.Ptr(false)}, 10, []int64{6, 3, 2}},
		{"type", events.Filter{EventType: events.Ptr(events.EventNoFaceDetected)}, 10, []int64{6}},
		{"no match", events.Filter{Identity: events.Ptr("zoe")}, 10, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryEvents(ctx, tt.filter, tt.limit)
			if err != nil {
				t.Fatalf("QueryEvents failed: %v", err)
			}
			if got == nil {
				t.Fatal("empty result must be a non-nil slice")
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("expected %d events, got %d", len(tt.wantIDs), len(got))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("position %d: expected id %d, got %d", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestStore_QueryEvents_InvalidLimit(t *testing.T) {
	s := New()
	_, err := s.QueryEvents(context.Background(), events.Filter{}, 0)

	var qe *events.QueryError
	if !errors.As(err, &qe) || !errors.Is(err, events.ErrInvalidFilter) {
		t.Errorf("expected QueryError wrapping ErrInvalidFilter, got %v", err)
	}
}

func TestStore_Counts(t *testing.T) {
	s := New()
	seed(t, s)
	ctx := context.Background()

	n, err := s.CountEvents(ctx, events.Filter{Granted: events.Ptr(true)})
	if err != nil || n != 3 {
		t.Errorf("expected 3 granted, got %d (%v)", n, err)
	}

	c, err := s.CountOutcomes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Granted != 3 || c.Denied != 3 {
		t.Errorf("expected 3/3, got %d/%d", c.Granted, c.Denied)
	}
	by := c.GrantedByIdentity
	if by["ana"] != 2 || by["luis"] != 1 || len(by) != 2 {
		t.Errorf("unexpected per identity counts: %v", by)
	}
}

func TestStore_Trainings(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, name := range []string{"ana", "luis", "zoe"} {
		if _, err := s.InsertTrainingSession(ctx, events.TrainingSessionRecord{Identity: name, ImageCount: 3, ModelKind: "dlib_resnet", Succeeded: true}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.QueryTrainingSessions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Identity != "zoe" || got[1].Identity != "luis" {
		t.Errorf("expected latest two sessions, got %+v", got)
	}
}

func TestStore_Closed(t *testing.T) {
	s := New()
	_ = s.Close()
	ctx := context.Background()

	if _, err := s.InsertAccessEvent(ctx, events.AccessEvent{EventType: events.EventNoFaceDetected}); !errors.Is(err, events.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable on insert, got %v", err)
	}
	if _, err := s.CountOutcomes(ctx); !errors.Is(err, events.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable from CountOutcomes, got %v", err)
	}
	if _, err := s.CountEvents(ctx, events.Filter{}); !errors.Is(err, events.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable on count, got %v", err)
	}
}
