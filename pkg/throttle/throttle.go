// Package throttle decides which access decisions are worth persisting.
//
// A decision is emitted when log_interval frames have passed since the last
// emission, or immediately when its resolved identity differs from the last
// emitted one. Everything else is suppressed. State is owned by a single
// session loop; it is not safe for concurrent use.
package throttle

import (
	"github.com/MrCodeEU/facegate/pkg/decision"
)

// State is the memory of the last emission.
type State struct {
	// LastIdentity is zero until something has been emitted.
	LastIdentity decision.Identity
	LastFrame    int64
	// LastKind is empty until something has been emitted.
	LastKind decision.Kind
}

// NewState returns a state whose first decision always emits.
func NewState(logInterval int) *State {
	return &State{LastFrame: -int64(logInterval)}
}

// ShouldEmit reports whether d, seen at frame, must be persisted.
func ShouldEmit(d decision.Decision, frame uint64, st *State, logInterval int) bool {
	if int64(frame)-st.LastFrame >= int64(logInterval) {
		return true
	}
	return d.Identity() != st.LastIdentity
}

// RecordEmission advances st after an emission. It is not undone when the
// write later fails.
func RecordEmission(d decision.Decision, frame uint64, st *State) {
	st.LastFrame = int64(frame)
	st.LastIdentity = d.Identity()
	st.LastKind = d.Kind
}

// Coordinator pairs one State with its interval. Use one per camera source.
type Coordinator struct {
	state    State
	interval int

	emitted    uint64
	suppressed uint64
}

// NewCoordinator creates a coordinator. Intervals below 1 are treated as 1,
// which emits every decision.
func NewCoordinator(logInterval int) *Coordinator {
	if logInterval < 1 {
		logInterval = 1
	}
	return &Coordinator{
		state:    *NewState(logInterval),
		interval: logInterval,
	}
}

// Offer decides whether d must be emitted and records the emission if so.
func (c *Coordinator) Offer(d decision.Decision, frame uint64) bool {
	if !ShouldEmit(d, frame, &c.state, c.interval) {
		c.suppressed++
		return false
	}
	RecordEmission(d, frame, &c.state)
	c.emitted++
	return true
}

// State returns a copy of the current state.
func (c *Coordinator) State() State {
	return c.state
}

// Interval returns the log interval in frames.
func (c *Coordinator) Interval() int {
	return c.interval
}

// Counts returns how many decisions were emitted and suppressed.
func (c *Coordinator) Counts() (emitted, suppressed uint64) {
	return c.emitted, c.suppressed
}
