package stats

import (
	"context"
	"errors"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/MrCodeEU/facegate/pkg/decision"
	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/store/memory"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleEvents() []events.AccessEvent {
	return []events.AccessEvent{
		{Identity: events.Ptr("ana"), Granted: true, EventType: events.EventSuccessfulAccess, Confidence: 0.40, Timestamp: t0},
		{Identity: events.Ptr("ana"), Granted: false, EventType: events.EventFailedAccess, FailureReason: events.Ptr(events.ReasonLowConfidence), Confidence: 0.70, Timestamp: t0.Add(time.Second)},
		{Granted: false, EventType: events.EventFailedAccess, FailureReason: events.Ptr(events.ReasonUnknownPerson), Confidence: 1.20, Timestamp: t0.Add(2 * time.Second)},
		{Identity: events.Ptr("luis"), Granted: true, EventType: events.EventSuccessfulAccess, Confidence: 0.30, Timestamp: t0.Add(3 * time.Second)},
		{Identity: events.Ptr("ana"), Granted: true, EventType: events.EventSuccessfulAccess, Confidence: 0.35, Timestamp: t0.Add(4 * time.Second)},
		{Granted: false, EventType: events.EventNoFaceDetected, Timestamp: t0.Add(5 * time.Second)},
	}
}

// failingStore fails every query.
type failingStore struct {
	events.Store
	err error
}

func (f failingStore) CountEvents(context.Context, events.Filter) (int64, error) {
	return 0, f.err
}

// plainStore hides the memory store's OutcomeCounter.
type plainStore struct {
	events.Store
}

func TestCompute(t *testing.T) {
	snap := Compute(sampleEvents())

	if snap.TotalSuccessful != 3 || snap.TotalFailed != 3 {
		t.Errorf("expected 3/3, got %d/%d", snap.TotalSuccessful, snap.TotalFailed)
	}
	if snap.ByIdentity["ana"] != 2 || snap.ByIdentity["luis"] != 1 {
		t.Errorf("unexpected per identity counts: %v", snap.ByIdentity)
	}
	if got := snap.SuccessRate(); got != 0.5 {
		t.Errorf("expected success rate 0.5, got %v", got)
	}
}

func TestCompute_Empty(t *testing.T) {
	snap := Compute(nil)
	if snap.Total() != 0 || snap.SuccessRate() != 0 {
		t.Errorf("empty input should give a zero snapshot, got %+v", snap)
	}
	if snap.ByIdentity == nil {
		t.Error("ByIdentity should be an empty map, not nil")
	}
}

func TestCompute_Additivity(t *testing.T) {
	evs := sampleEvents()
	for n := 0; n <= len(evs); n++ {
		snap := Compute(evs[:n])
		if snap.Total() != int64(n) {
			t.Errorf("n=%d: successful+failed=%d", n, snap.Total())
		}
		var sum int64
		for _, c := range snap.ByIdentity {
			sum += c
		}
		if sum > snap.TotalSuccessful {
			t.Errorf("n=%d: per identity sum %d exceeds successful %d", n, sum, snap.TotalSuccessful)
		}
	}
}

func TestGrantedWithoutIdentityNotAttributed(t *testing.T) {
	snap := Compute([]events.AccessEvent{{Granted: true, EventType: events.EventSuccessfulAccess}})
	if snap.TotalSuccessful != 1 || len(snap.ByIdentity) != 0 {
		t.Errorf("expected one unattributed success, got %+v", snap)
	}
}

func TestCollect(t *testing.T) {
	got := Collect(slices.Values(sampleEvents()))
	want := Compute(sampleEvents())
	if got.TotalSuccessful != want.TotalSuccessful || got.TotalFailed != want.TotalFailed || !maps.Equal(got.ByIdentity, want.ByIdentity) {
		t.Errorf("Collect disagrees with Compute: %+v vs %+v", got, want)
	}
}

func TestAggregator_SnapshotIsCopy(t *testing.T) {
	a := NewAggregator()
	a.Add(events.AccessEvent{Identity: events.Ptr("ana"), Granted: true})
	snap := a.Snapshot()
	snap.ByIdentity["ana"] = 99

	if a.Snapshot().ByIdentity["ana"] != 1 {
		t.Error("mutating a snapshot must not affect the aggregator")
	}
}

func TestSummarize(t *testing.T) {
	var anas []events.AccessEvent
	for _, ev := range sampleEvents() {
		if ev.IdentityName() == "ana" {
			anas = append(anas, ev)
		}
	}

	ps := Summarize("ana", anas, decision.LowerIsBetter)
	if ps.Attempts != 3 || ps.Successes != 2 || ps.Failures != 1 {
		t.Errorf("unexpected counts: %+v", ps)
	}
	if ps.BestConfidence != 0.35 {
		t.Errorf("expected best 0.35, got %v", ps.BestConfidence)
	}
	want := (0.40 + 0.70 + 0.35) / 3
	if diff := ps.AverageConfidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected average %v, got %v", want, ps.AverageConfidence)
	}
	if !ps.LastSeen.Equal(t0.Add(4 * time.Second)) {
		t.Errorf("unexpected last seen %v", ps.LastSeen)
	}

	hi := Summarize("ana", anas, decision.HigherIsBetter)
	if hi.BestConfidence != 0.70 {
		t.Errorf("higher is better should pick 0.70, got %v", hi.BestConfidence)
	}
}

func TestSummarize_Empty(t *testing.T) {
	ps := Summarize("zoe", nil, decision.LowerIsBetter)
	if ps.Attempts != 0 || ps.AverageConfidence != 0 || ps.BestConfidence != 0 {
		t.Errorf("expected zero summary, got %+v", ps)
	}
}

func TestSummarize_NoFaceCarriesNoScore(t *testing.T) {
	unknown := events.AccessEvent{Granted: false, EventType: events.EventFailedAccess, FailureReason: events.Ptr(events.ReasonUnknownPerson), Confidence: 1.20, Timestamp: t0}
	noFace := events.AccessEvent{Granted: false, EventType: events.EventNoFaceDetected, Timestamp: t0.Add(time.Second)}

	tests := []struct {
		name     string
		evs      []events.AccessEvent
		attempts int
		avg      float64
		best     float64
	}{
		{"mixed", []events.AccessEvent{unknown, noFace, noFace}, 3, 1.20, 1.20},
		{"only no face", []events.AccessEvent{noFace}, 1, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, cmp := range []decision.Comparator{decision.LowerIsBetter, decision.HigherIsBetter} {
				ps := Summarize("", tt.evs, cmp)
				if ps.Attempts != tt.attempts || ps.Failures != tt.attempts {
					t.Errorf("%v: unexpected counts %+v", cmp, ps)
				}
				if ps.AverageConfidence != tt.avg || ps.BestConfidence != tt.best {
					t.Errorf("%v: expected avg %v best %v, got %v and %v", cmp, tt.avg, tt.best, ps.AverageConfidence, ps.BestConfidence)
				}
			}
		})
	}
}

func TestSummarizeByIdentity(t *testing.T) {
	got := SummarizeByIdentity(sampleEvents(), decision.LowerIsBetter)

	names := make([]string, len(got))
	for i, ps := range got {
		names[i] = ps.Identity
	}
	if !slices.Equal(names, []string{"", "ana", "luis"}) {
		t.Errorf("unexpected groups %v", names)
	}
	if got[0].Attempts != 2 || got[0].BestConfidence != 1.20 {
		t.Errorf("unattributed group should score only the unknown face: %+v", got[0])
	}
}

func newSeededService(t *testing.T, wrap func(events.Store) events.Store) *Service {
	t.Helper()
	st := memory.New()
	for _, ev := range sampleEvents() {
		if _, err := st.InsertAccessEvent(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}
	var s events.Store = st
	if wrap != nil {
		s = wrap(st)
	}
	return NewService(s, decision.LowerIsBetter)
}

func TestService_Snapshot(t *testing.T) {
	tests := []struct {
		name string
		wrap func(events.Store) events.Store
	}{
		{"grouped by store", nil},
		{"aggregated from events", func(s events.Store) events.Store { return plainStore{s} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newSeededService(t, tt.wrap)
			snap, err := svc.Snapshot(context.Background())
			if err != nil {
				t.Fatalf("Snapshot failed: %v", err)
			}
			if snap.TotalSuccessful != 3 || snap.TotalFailed != 3 {
				t.Errorf("expected 3/3, got %d/%d", snap.TotalSuccessful, snap.TotalFailed)
			}
			if snap.ByIdentity["ana"] != 2 || snap.ByIdentity["luis"] != 1 {
				t.Errorf("unexpected per identity counts: %v", snap.ByIdentity)
			}
		})
	}
}

// countingStore records which counting path Snapshot takes.
type countingStore struct {
	*memory.Store
	outcomes, counts int
}

func (c *countingStore) CountOutcomes(ctx context.Context) (events.OutcomeCounts, error) {
	c.outcomes++
	return c.Store.CountOutcomes(ctx)
}

func (c *countingStore) CountEvents(ctx context.Context, f events.Filter) (int64, error) {
	c.counts++
	return c.Store.CountEvents(ctx, f)
}

func TestService_SnapshotSingleRead(t *testing.T) {
	cs := &countingStore{Store: memory.New()}
	for _, ev := range sampleEvents() {
		if _, err := cs.InsertAccessEvent(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}

	snap, err := NewService(cs, decision.LowerIsBetter).Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cs.outcomes != 1 || cs.counts != 0 {
		t.Errorf("expected one grouped read, got %d grouped and %d separate counts", cs.outcomes, cs.counts)
	}
	if snap.Total() != 6 {
		t.Errorf("expected 6 events, got %d", snap.Total())
	}
}

// growingStore inserts a granted event right after every count, like a writer
// racing the snapshot.
type growingStore struct {
	plainStore
}

func (g growingStore) CountEvents(ctx context.Context, f events.Filter) (int64, error) {
	n, err := g.Store.CountEvents(ctx, f)
	if err != nil {
		return 0, err
	}
	_, err = g.Store.InsertAccessEvent(ctx, events.AccessEvent{
		Identity: events.Ptr("zoe"), Granted: true, EventType: events.EventSuccessfulAccess, Timestamp: t0.Add(time.Minute),
	})
	return n, err
}

func TestService_SnapshotConsistentUnderWrites(t *testing.T) {
	svc := newSeededService(t, func(s events.Store) events.Store { return growingStore{plainStore{s}} })

	snap, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.Total() != 6 {
		t.Errorf("expected totals from one listing of 6 events, got %d", snap.Total())
	}
	var attributed int64
	for _, n := range snap.ByIdentity {
		attributed += n
	}
	if attributed > snap.TotalSuccessful {
		t.Errorf("per identity sum %d exceeds successful %d", attributed, snap.TotalSuccessful)
	}
}

func TestService_SnapshotOrZero(t *testing.T) {
	svc := NewService(failingStore{err: events.Query("count_events", events.ErrStoreUnavailable)}, decision.LowerIsBetter)

	snap, degraded := svc.SnapshotOrZero(context.Background())
	if !degraded {
		t.Error("expected degraded on store failure")
	}
	if snap.Total() != 0 || snap.ByIdentity == nil {
		t.Errorf("expected zeroed snapshot, got %+v", snap)
	}

	_, err := svc.Snapshot(context.Background())
	if !errors.Is(err, events.ErrStoreUnavailable) {
		t.Errorf("Snapshot should surface the store error, got %v", err)
	}
}

func TestService_Queries(t *testing.T) {
	svc := newSeededService(t, nil)
	ctx := context.Background()

	fails, err := svc.RecentFailures(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(fails) != 2 || fails[0].EventType != events.EventNoFaceDetected {
		t.Errorf("expected two most recent failures, got %+v", fails)
	}

	ps, err := svc.Person(ctx, "ana", 100)
	if err != nil {
		t.Fatal(err)
	}
	if ps.Attempts != 3 {
		t.Errorf("expected 3 attempts for ana, got %d", ps.Attempts)
	}

	people, err := svc.People(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(people) != 3 {
		t.Errorf("expected 3 groups, got %d", len(people))
	}

	if _, err := svc.History(ctx, events.Filter{}, 0); !errors.Is(err, events.ErrInvalidFilter) {
		t.Errorf("limit 0 should be rejected, got %v", err)
	}
}
