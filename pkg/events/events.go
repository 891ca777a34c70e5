// Package events defines the persisted access audit records and the store
// contracts used to write and query them.
package events

import (
	"context"
	"time"
)

// EventType categorises an access event.
type EventType string

const (
	EventSuccessfulAccess EventType = "successful_access"
	EventFailedAccess     EventType = "failed_access"
	EventNoFaceDetected   EventType = "no_face_detected"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventSuccessfulAccess, EventFailedAccess, EventNoFaceDetected:
		return true
	}
	return false
}

// FailureReason explains a denied access with a face present.
type FailureReason string

const (
	ReasonUnknownPerson FailureReason = "unknown_person"
	ReasonLowConfidence FailureReason = "low_confidence"
)

// ImageRef is an opaque handle to a stored image blob.
type ImageRef string

// AccessEvent is one logged access decision. Events are immutable once
// stored and are never deleted.
type AccessEvent struct {
	ID            int64          `json:"id"`
	Identity      *string        `json:"identity"`
	Confidence    float64        `json:"confidence"`
	Granted       bool           `json:"granted"`
	EventType     EventType      `json:"event_type"`
	FailureReason *FailureReason `json:"failure_reason"`
	Timestamp     time.Time      `json:"timestamp"`
	ImageRef      *ImageRef      `json:"image_ref"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// IdentityName returns the identity or "".
func (e AccessEvent) IdentityName() string {
	if e.Identity == nil {
		return ""
	}
	return *e.Identity
}

// TrainingSessionRecord records one identity's part of a training run.
type TrainingSessionRecord struct {
	ID         int64     `json:"id"`
	Identity   string    `json:"identity"`
	ImageCount int       `json:"image_count"`
	ModelKind  string    `json:"model_kind"`
	Timestamp  time.Time `json:"timestamp"`
	Succeeded  bool      `json:"succeeded"`
}

// Filter narrows event queries. Set fields are combined with AND.
type Filter struct {
	Identity  *string
	Granted   *bool
	EventType *EventType
	Since     *time.Time
}

// Match reports whether ev satisfies every set field of f.
func (f Filter) Match(ev AccessEvent) bool {
	if f.Identity != nil && (ev.Identity == nil || *ev.Identity != *f.Identity) {
		return false
	}
	if f.Granted != nil && ev.Granted != *f.Granted {
		return false
	}
	if f.EventType != nil && ev.EventType != *f.EventType {
		return false
	}
	if f.Since != nil && ev.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

// Validate rejects malformed filters.
func (f Filter) Validate() error {
	if f.EventType != nil && !f.EventType.Valid() {
		return ErrInvalidFilter
	}
	return nil
}

// Store is the durable append-only event store.
type Store interface {
	InsertAccessEvent(ctx context.Context, ev AccessEvent) (int64, error)
	InsertTrainingSession(ctx context.Context, rec TrainingSessionRecord) (int64, error)
	// QueryEvents returns at most limit matching events, most recent first.
	QueryEvents(ctx context.Context, f Filter, limit int) ([]AccessEvent, error)
	CountEvents(ctx context.Context, f Filter) (int64, error)
	QueryTrainingSessions(ctx context.Context, limit int) ([]TrainingSessionRecord, error)
	Close() error
}

// OutcomeCounts are the granted and denied totals plus the granted events per
// identity, all taken from the same state of the store.
type OutcomeCounts struct {
	Granted           int64
	Denied            int64
	GrantedByIdentity map[string]int64
}

// OutcomeCounter is implemented by stores that can count outcomes in one
// consistent read without returning events.
type OutcomeCounter interface {
	CountOutcomes(ctx context.Context) (OutcomeCounts, error)
}

// BlobSink stores failed-attempt images.
type BlobSink interface {
	StoreBlob(ctx context.Context, data []byte) (ImageRef, error)
}

// Ptr returns a pointer to v. Handy for filters and optional fields.
func Ptr[T any](v T) *T {
	return &v
}
