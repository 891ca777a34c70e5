// Package session runs live recognition: it pulls frames from a source,
// classifies every face, throttles the resulting decisions and hands the
// ones worth keeping to a persistence sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/MrCodeEU/facegate/pkg/decision"
	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/throttle"
	"github.com/MrCodeEU/facegate/pkg/vision"
)

// ErrSourceFailing is returned when the source keeps failing.
var ErrSourceFailing = errors.New("recognition source keeps failing")

// Sink accepts events for persistence. *recorder.Recorder implements it.
type Sink interface {
	Enqueue(ev events.AccessEvent, image []byte) bool
}

// Options configures a Loop.
type Options struct {
	Threshold   float64
	LogInterval int
	Comparator  decision.Comparator
	CameraIndex int

	// SessionID tags every event; a random UUID is used when empty.
	SessionID string

	// ArchiveNoFaceFrames attaches the full frame to no-face events.
	ArchiveNoFaceFrames bool

	// MaxSourceErrors is the number of consecutive source errors tolerated.
	MaxSourceErrors int
}

// Summary counts what a session saw and did.
type Summary struct {
	SessionID    string                  `json:"session_id"`
	Started      time.Time               `json:"started"`
	Ended        time.Time               `json:"ended"`
	Frames       uint64                  `json:"frames"`
	Decisions    map[decision.Kind]int64 `json:"decisions"`
	Emitted      uint64                  `json:"emitted"`
	Suppressed   uint64                  `json:"suppressed"`
	Rejected     int64                   `json:"rejected"`
	SourceErrors int64                   `json:"source_errors"`
}

// Loop is one recognition session over one source. It is not safe for
// concurrent use.
type Loop struct {
	source     vision.Source
	sink       Sink
	classifier decision.Classifier
	coord      *throttle.Coordinator
	opts       Options
	summary    Summary
	now        func() time.Time

	// lastStamp keeps event timestamps non-decreasing in decision order.
	lastStamp time.Time
}

// New creates a Loop reading from source and writing to sink.
func New(source vision.Source, sink Sink, opts Options) *Loop {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.MaxSourceErrors <= 0 {
		opts.MaxSourceErrors = 5
	}

	return &Loop{
		source: source,
		sink:   sink,
		classifier: decision.Classifier{
			Threshold:  opts.Threshold,
			Known:      source.KnownIdentities(),
			Comparator: opts.Comparator,
		},
		coord: throttle.NewCoordinator(opts.LogInterval),
		opts:  opts,
		summary: Summary{
			SessionID: opts.SessionID,
			Decisions: make(map[decision.Kind]int64, len(decision.Kinds)),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Run processes frames until the source is exhausted or ctx is done. It
// returns nil when the source ended, ctx.Err() on cancellation.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	log := logging.Component("session").WithField("session_id", l.opts.SessionID)
	l.summary.Started = l.now()

	log.WithFields(logging.Fields{
		"threshold":    l.opts.Threshold,
		"log_interval": l.coord.Interval(),
		"comparator":   l.opts.Comparator.String(),
		"identities":   len(l.classifier.Known),
	}).Info("Recognition session started")

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return l.finish(), err
		}

		frame, err := l.source.NextFrame(ctx)
		switch {
		case errors.Is(err, io.EOF):
			log.Info("Source exhausted")
			return l.finish(), nil
		case ctx.Err() != nil:
			return l.finish(), ctx.Err()
		case err != nil:
			failures++
			l.summary.SourceErrors++
			log.WithError(err).Warn("Failed to read frame")
			if failures >= l.opts.MaxSourceErrors {
				return l.finish(), fmt.Errorf("%w: %w", ErrSourceFailing, err)
			}
			continue
		}

		failures = 0
		l.Process(frame)
	}
}

// Process runs one frame through classification and throttling.
func (l *Loop) Process(frame vision.Frame) {
	l.summary.Frames++

	if len(frame.Observations) == 0 {
		l.handle(decision.Decision{Kind: decision.NoFaceDetected}, frame)
		return
	}
	for i := range frame.Observations {
		l.handle(l.classifier.Classify(&frame.Observations[i]), frame)
	}
}

// Summary returns the counters so far.
func (l *Loop) Summary() Summary {
	s := l.summary
	s.Decisions = make(map[decision.Kind]int64, len(l.summary.Decisions))
	for k, v := range l.summary.Decisions {
		s.Decisions[k] = v
	}
	s.Emitted, s.Suppressed = l.coord.Counts()
	return s
}

func (l *Loop) finish() Summary {
	s := l.Summary()
	s.Ended = l.now()
	logging.Component("session").WithFields(logging.Fields{
		"session_id": s.SessionID,
		"frames":     s.Frames,
		"emitted":    s.Emitted,
		"suppressed": s.Suppressed,
		"rejected":   s.Rejected,
	}).Info("Recognition session finished")
	return s
}

func (l *Loop) handle(d decision.Decision, frame vision.Frame) {
	l.summary.Decisions[d.Kind]++

	if !l.coord.Offer(d, frame.Index) {
		return
	}

	ev := l.event(d, frame)
	logging.Component("session").WithFields(logging.Fields{
		"frame":      frame.Index,
		"kind":       d.Kind,
		"identity":   d.Identity().String(),
		"confidence": ev.Confidence,
	}).Debug("Emitting access event")

	if !l.sink.Enqueue(ev, l.evidence(d, frame)) {
		l.summary.Rejected++
	}
}

// event builds the audit record for an emitted decision.
func (l *Loop) event(d decision.Decision, frame vision.Frame) events.AccessEvent {
	ts := frame.CapturedAt
	if ts.IsZero() {
		ts = l.now()
	}
	if ts.Before(l.lastStamp) {
		ts = l.lastStamp
	}
	l.lastStamp = ts

	ev := events.AccessEvent{
		Granted:       d.Kind == decision.Granted,
		EventType:     d.Kind.EventType(),
		FailureReason: d.Kind.FailureReason(),
		Timestamp:     ts.UTC(),
		Extra: map[string]any{
			"threshold":    l.opts.Threshold,
			"frame_index":  frame.Index,
			"session_id":   l.opts.SessionID,
			"camera_index": l.opts.CameraIndex,
		},
	}

	// Only a grant attributes the event to a person. Denied candidates are
	// kept in predicted_name.
	if name, ok := d.Identity().Name(); ok && ev.Granted {
		ev.Identity = &name
	}

	if obs := d.Observation; obs != nil {
		ev.Confidence = obs.Confidence
		ev.Extra["face_position"] = map[string]int{"x": obs.Box.X, "y": obs.Box.Y, "w": obs.Box.W, "h": obs.Box.H}
		if !ev.Granted && obs.Identity != nil {
			ev.Extra["predicted_name"] = *obs.Identity
		}
	}
	return ev
}

// evidence returns the image archived with a denied event: the face crop
// when there is a face, the full frame for no-face events if enabled.
func (l *Loop) evidence(d decision.Decision, frame vision.Frame) []byte {
	switch {
	case d.Kind == decision.Granted:
		return nil
	case d.Observation == nil:
		if l.opts.ArchiveNoFaceFrames {
			return frame.Image
		}
		return nil
	case len(d.Observation.FaceImage) > 0:
		return d.Observation.FaceImage
	case len(frame.Image) == 0:
		return nil
	}

	crop, err := vision.CropFace(frame.Image, d.Observation.Box)
	if err != nil {
		logging.Component("session").WithError(err).Debug("Face crop failed, archiving full frame")
		return frame.Image
	}
	return crop
}
