package vision

import (
	"context"
	"fmt"

	"github.com/MrCodeEU/facegate/pkg/camera"
)

// Grabber supplies raw camera frames.
type Grabber interface {
	Capture() (*camera.Frame, error)
}

// GallerySource turns camera frames into observations by matching every
// detected face against a trained gallery. The distance to the nearest
// reference sample is reported as the observation's confidence.
type GallerySource struct {
	cam     Grabber
	engine  Engine
	gallery *Gallery
	known   IdentitySet

	// unknownAbove drops the candidate label when the nearest sample is
	// farther than this distance. Zero keeps every label.
	unknownAbove float64

	next uint64
}

// NewGallerySource creates a source reading from cam.
func NewGallerySource(cam Grabber, engine Engine, gallery *Gallery, unknownAbove float64) *GallerySource {
	return &GallerySource{
		cam:          cam,
		engine:       engine,
		gallery:      gallery,
		known:        gallery.Known(),
		unknownAbove: unknownAbove,
	}
}

// KnownIdentities returns the gallery's label set.
func (s *GallerySource) KnownIdentities() IdentitySet {
	return s.known
}

// NextFrame captures, detects and matches one frame. Camera errors, including
// io.EOF from a replay directory, are returned unchanged.
func (s *GallerySource) NextFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	raw, err := s.cam.Capture()
	if err != nil {
		return Frame{}, err
	}

	idx := s.next
	s.next++

	faces, err := s.engine.Detect(raw.Data)
	if err != nil {
		return Frame{}, fmt.Errorf("detect faces in frame %d: %w", idx, err)
	}

	frame := Frame{
		Index:        idx,
		CapturedAt:   raw.Timestamp,
		Image:        raw.Data,
		Observations: make([]Observation, 0, len(faces)),
	}

	for _, f := range faces {
		obs := Observation{
			Box:        f.Box,
			FrameIndex: idx,
			CapturedAt: raw.Timestamp,
		}

		label, dist, err := s.gallery.Nearest(f.Descriptor)
		switch {
		case err != nil:
			// Nothing to compare against; every face is unknown.
			obs.Confidence = 0
		case label == "" || (s.unknownAbove > 0 && dist > s.unknownAbove):
			obs.Confidence = dist
		default:
			name := label
			obs.Identity = &name
			obs.Confidence = dist
		}

		frame.Observations = append(frame.Observations, obs)
	}

	return frame, nil
}
