package stats

import (
	"context"

	"github.com/MrCodeEU/facegate/pkg/decision"
	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/logging"
)

// Service answers statistics and history queries against a store.
type Service struct {
	store events.Store
	cmp   decision.Comparator
}

// NewService creates a Service. cmp decides which confidence is "best" in
// person summaries.
func NewService(store events.Store, cmp decision.Comparator) *Service {
	return &Service{store: store, cmp: cmp}
}

// Snapshot computes statistics over every stored event. Stores that count
// outcomes do it in one read; otherwise a single listing of every event is
// aggregated, so the totals and per identity counts always agree.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	if oc, ok := s.store.(events.OutcomeCounter); ok {
		c, err := oc.CountOutcomes(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{
			TotalSuccessful: c.Granted,
			TotalFailed:     c.Denied,
			ByIdentity:      c.GrantedByIdentity,
		}, nil
	}

	n, err := s.store.CountEvents(ctx, events.Filter{})
	if err != nil {
		return Snapshot{}, err
	}
	if n == 0 {
		return Compute(nil), nil
	}
	all, err := s.store.QueryEvents(ctx, events.Filter{}, int(n))
	if err != nil {
		return Snapshot{}, err
	}
	return Compute(all), nil
}

// SnapshotOrZero is Snapshot for display callers: a failed query is logged
// and a zeroed snapshot returned with degraded set.
func (s *Service) SnapshotOrZero(ctx context.Context) (snap Snapshot, degraded bool) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		logging.Component("stats").WithError(err).Warn("Statistics unavailable, showing zeroed snapshot")
		return Snapshot{ByIdentity: map[string]int64{}}, true
	}
	return snap, false
}

// History returns at most limit matching events, most recent first.
func (s *Service) History(ctx context.Context, f events.Filter, limit int) ([]events.AccessEvent, error) {
	return s.store.QueryEvents(ctx, f, limit)
}

// RecentFailures returns the latest denied events.
func (s *Service) RecentFailures(ctx context.Context, limit int) ([]events.AccessEvent, error) {
	return s.store.QueryEvents(ctx, events.Filter{Granted: events.Ptr(false)}, limit)
}

// Person summarizes the latest limit events recorded for identity.
func (s *Service) Person(ctx context.Context, identity string, limit int) (PersonSummary, error) {
	evs, err := s.store.QueryEvents(ctx, events.Filter{Identity: &identity}, limit)
	if err != nil {
		return PersonSummary{}, err
	}
	return Summarize(identity, evs, s.cmp), nil
}

// People summarizes the latest limit events grouped by identity.
func (s *Service) People(ctx context.Context, limit int) ([]PersonSummary, error) {
	evs, err := s.store.QueryEvents(ctx, events.Filter{}, limit)
	if err != nil {
		return nil, err
	}
	return SummarizeByIdentity(evs, s.cmp), nil
}

// Trainings returns the latest training session records.
func (s *Service) Trainings(ctx context.Context, limit int) ([]events.TrainingSessionRecord, error) {
	return s.store.QueryTrainingSessions(ctx, limit)
}
