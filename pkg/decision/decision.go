// Package decision classifies face observations into access decisions.
package decision

import (
	"fmt"

	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/vision"
)

// Kind is the outcome of classifying one observation.
type Kind string

const (
	Granted             Kind = "granted"
	DeniedUnknown       Kind = "denied_unknown"
	DeniedLowConfidence Kind = "denied_low_confidence"
	NoFaceDetected      Kind = "no_face_detected"
)

// Kinds lists every Kind in a stable order.
var Kinds = []Kind{Granted, DeniedUnknown, DeniedLowConfidence, NoFaceDetected}

// EventType maps the kind to the persisted event type.
func (k Kind) EventType() events.EventType {
	switch k {
	case Granted:
		return events.EventSuccessfulAccess
	case NoFaceDetected:
		return events.EventNoFaceDetected
	default:
		return events.EventFailedAccess
	}
}

// FailureReason returns the reason recorded for a denied face, or nil.
func (k Kind) FailureReason() *events.FailureReason {
	switch k {
	case DeniedUnknown:
		return events.Ptr(events.ReasonUnknownPerson)
	case DeniedLowConfidence:
		return events.Ptr(events.ReasonLowConfidence)
	}
	return nil
}

// Decision is a classified observation. Observation is nil for NoFaceDetected.
type Decision struct {
	Kind        Kind
	Observation *vision.Observation
}

// Identity resolves the decision to the identity used for throttling.
func (d Decision) Identity() Identity {
	switch d.Kind {
	case Granted, DeniedLowConfidence:
		return Known(d.Observation.IdentityName())
	case DeniedUnknown:
		return Unknown()
	}
	return Absent()
}

// Comparator states which direction of the confidence score is more certain.
type Comparator int

const (
	// LowerIsBetter treats the score as a distance (dlib, LBPH, Eigen, Fisher).
	LowerIsBetter Comparator = iota
	// HigherIsBetter treats the score as a similarity or probability.
	HigherIsBetter
)

// Better reports whether confidence clears threshold.
func (c Comparator) Better(confidence, threshold float64) bool {
	if c == HigherIsBetter {
		return confidence > threshold
	}
	return confidence < threshold
}

func (c Comparator) String() string {
	if c == HigherIsBetter {
		return "higher_is_better"
	}
	return "lower_is_better"
}

// ParseComparator parses the configuration name of a comparator.
func ParseComparator(s string) (Comparator, error) {
	switch s {
	case "", "lower_is_better":
		return LowerIsBetter, nil
	case "higher_is_better":
		return HigherIsBetter, nil
	}
	return LowerIsBetter, fmt.Errorf("unknown comparator %q", s)
}

// Classifier holds the inputs that stay fixed for a session.
type Classifier struct {
	Threshold  float64
	Known      vision.IdentitySet
	Comparator Comparator
}

// Classify converts one observation into a decision. A nil observation means
// no face was detected.
func (c Classifier) Classify(obs *vision.Observation) Decision {
	if obs == nil {
		return Decision{Kind: NoFaceDetected}
	}
	if obs.Identity == nil || !c.Known.Contains(*obs.Identity) {
		return Decision{Kind: DeniedUnknown, Observation: obs}
	}
	if !c.Comparator.Better(obs.Confidence, c.Threshold) {
		return Decision{Kind: DeniedLowConfidence, Observation: obs}
	}
	return Decision{Kind: Granted, Observation: obs}
}

// Classify classifies obs with lower-is-better scoring.
func Classify(obs *vision.Observation, threshold float64, known vision.IdentitySet) Decision {
	return Classifier{Threshold: threshold, Known: known, Comparator: LowerIsBetter}.Classify(obs)
}
