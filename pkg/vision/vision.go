// Package vision defines what the recognition pipeline sees: per-frame face
// observations, the trained gallery they are matched against, and the
// interfaces implemented by detection engines and frame sources.
package vision

import (
	"context"
	"errors"
	"sort"
	"time"
)

// BoundingBox locates a face within a frame, in pixels.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Observation is one face detected in one frame.
type Observation struct {
	// Identity is the classifier's best label, nil when it has none.
	Identity *string
	// Confidence is the classifier's dissimilarity score; lower is more certain.
	Confidence float64
	Box        BoundingBox
	FrameIndex uint64
	CapturedAt time.Time

	// FaceImage is an optional JPEG crop of the face, archived for denied attempts.
	FaceImage []byte
}

// IdentityName returns the candidate label or "".
func (o *Observation) IdentityName() string {
	if o == nil || o.Identity == nil {
		return ""
	}
	return *o.Identity
}

// Frame is everything a source produced for one frame index.
type Frame struct {
	Index        uint64
	CapturedAt   time.Time
	Observations []Observation

	// Image is the full JPEG frame, if the source kept it.
	Image []byte
}

// Source is a pull-based stream of frames. NextFrame returns io.EOF once the
// stream is exhausted.
type Source interface {
	NextFrame(ctx context.Context) (Frame, error)
	KnownIdentities() IdentitySet
}

// IdentitySet is the set of registered identity labels.
type IdentitySet map[string]struct{}

// NewIdentitySet builds a set from names.
func NewIdentitySet(names ...string) IdentitySet {
	s := make(IdentitySet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Contains reports whether name is registered.
func (s IdentitySet) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members in sorted order.
func (s IdentitySet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DetectedFace is what an Engine reports for each face in an image.
type DetectedFace struct {
	Box        BoundingBox
	Descriptor Descriptor
}

// Engine detects faces and computes their descriptors.
type Engine interface {
	Detect(img []byte) ([]DetectedFace, error)
	Close() error
}

// ErrEmptyGallery is returned when matching against a gallery without samples.
var ErrEmptyGallery = errors.New("gallery has no samples")
