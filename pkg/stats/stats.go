// Package stats derives summary views from persisted access events.
package stats

import (
	"iter"
	"maps"
	"math"
	"sort"
	"time"

	"github.com/MrCodeEU/facegate/pkg/decision"
	"github.com/MrCodeEU/facegate/pkg/events"
)

// Snapshot is the aggregate view of an event set.
type Snapshot struct {
	TotalSuccessful int64            `json:"total_successful"`
	TotalFailed     int64            `json:"total_failed"`
	ByIdentity      map[string]int64 `json:"by_identity"`
}

// Total returns the number of events counted.
func (s Snapshot) Total() int64 {
	return s.TotalSuccessful + s.TotalFailed
}

// SuccessRate returns the granted share of all events in [0, 1].
func (s Snapshot) SuccessRate() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(s.TotalSuccessful) / float64(s.Total())
}

// Aggregator accumulates a Snapshot one event at a time.
type Aggregator struct {
	snap Snapshot
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{snap: Snapshot{ByIdentity: map[string]int64{}}}
}

// Add counts ev.
func (a *Aggregator) Add(ev events.AccessEvent) {
	if !ev.Granted {
		a.snap.TotalFailed++
		return
	}
	a.snap.TotalSuccessful++
	if ev.Identity != nil {
		a.snap.ByIdentity[*ev.Identity]++
	}
}

// Snapshot returns the counts so far.
func (a *Aggregator) Snapshot() Snapshot {
	s := a.snap
	s.ByIdentity = maps.Clone(a.snap.ByIdentity)
	return s
}

// Compute aggregates evs.
func Compute(evs []events.AccessEvent) Snapshot {
	a := NewAggregator()
	for _, ev := range evs {
		a.Add(ev)
	}
	return a.Snapshot()
}

// Collect aggregates a stream of events.
func Collect(seq iter.Seq[events.AccessEvent]) Snapshot {
	a := NewAggregator()
	for ev := range seq {
		a.Add(ev)
	}
	return a.Snapshot()
}

// PersonSummary describes one identity's recent attempts.
type PersonSummary struct {
	Identity          string    `json:"identity"`
	Attempts          int       `json:"attempts"`
	Successes         int       `json:"successes"`
	Failures          int       `json:"failures"`
	AverageConfidence float64   `json:"average_confidence"`
	BestConfidence    float64   `json:"best_confidence"`
	LastSeen          time.Time `json:"last_seen"`
}

// Summarize builds a PersonSummary from evs. Every event counts as an
// attempt, but frames without a face carry no score and are left out of the
// average and best confidence, which is picked with cmp. Without any scored
// event both stay zero.
func Summarize(identity string, evs []events.AccessEvent, cmp decision.Comparator) PersonSummary {
	ps := PersonSummary{Identity: identity}
	if len(evs) == 0 {
		return ps
	}

	var (
		sum    float64
		scored int
	)
	best := math.Inf(1)
	if cmp == decision.HigherIsBetter {
		best = math.Inf(-1)
	}

	for _, ev := range evs {
		ps.Attempts++
		if ev.Granted {
			ps.Successes++
		} else {
			ps.Failures++
		}
		if ev.Timestamp.After(ps.LastSeen) {
			ps.LastSeen = ev.Timestamp
		}

		if ev.EventType == events.EventNoFaceDetected {
			continue
		}
		scored++
		sum += ev.Confidence
		if cmp.Better(ev.Confidence, best) {
			best = ev.Confidence
		}
	}

	if scored > 0 {
		ps.AverageConfidence = sum / float64(scored)
		ps.BestConfidence = best
	}
	return ps
}

// SummarizeByIdentity groups evs by identity and summarizes each group.
// Events without an identity are grouped under "".
func SummarizeByIdentity(evs []events.AccessEvent, cmp decision.Comparator) []PersonSummary {
	groups := map[string][]events.AccessEvent{}
	for _, ev := range evs {
		name := ev.IdentityName()
		groups[name] = append(groups[name], ev)
	}

	out := make([]PersonSummary, 0, len(groups))
	for name, group := range groups {
		out = append(out, Summarize(name, group, cmp))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
