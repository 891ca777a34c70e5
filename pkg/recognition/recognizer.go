// Package recognition provides face detection and descriptor extraction.
// It uses dlib/go-face and is the only package that needs cgo.
package recognition

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/vision"
)

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// faceEngine is the subset of *face.Recognizer used here.
type faceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

// DlibEngine implements vision.Engine using dlib via go-face.
type DlibEngine struct {
	rec       faceEngine
	factory   func(modelPath string) (faceEngine, error)
	modelPath string
	loaded    bool
	mu        sync.RWMutex
}

var _ vision.Engine = (*DlibEngine)(nil)

// NewEngine creates a new DlibEngine instance.
func NewEngine() *DlibEngine {
	return &DlibEngine{
		factory: func(modelPath string) (faceEngine, error) {
			rec, err := face.NewRecognizer(modelPath)
			if err != nil {
				return nil, err
			}
			return rec, nil
		},
	}
}

// LoadModels loads the dlib models from modelPath. The directory must contain
// shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat
// and mmod_human_face_detector.dat.
func (r *DlibEngine) LoadModels(modelPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded {
		return nil
	}

	log := logging.Component("recognition")
	log.Infof("Loading face recognition models from: %s", modelPath)

	rec, err := r.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	r.rec = rec
	r.modelPath = modelPath
	r.loaded = true

	log.Info("Face recognition models loaded")
	return nil
}

// IsLoaded returns true if models are loaded.
func (r *DlibEngine) IsLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Close releases the recognizer resources.
func (r *DlibEngine) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rec != nil {
		r.rec.Close()
		r.rec = nil
	}
	r.loaded = false
	return nil
}

// Detect finds all faces in a JPEG image. An image without faces yields an
// empty slice and no error.
func (r *DlibEngine) Detect(img []byte) ([]vision.DetectedFace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.loaded {
		return nil, ErrModelNotLoaded
	}

	faces, err := r.rec.Recognize(img)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	result := make([]vision.DetectedFace, len(faces))
	for i, f := range faces {
		rect := f.Rectangle
		result[i] = vision.DetectedFace{
			Box: vision.BoundingBox{
				X: rect.Min.X,
				Y: rect.Min.Y,
				W: rect.Dx(),
				H: rect.Dy(),
			},
			Descriptor: vision.Descriptor(f.Descriptor),
		}
	}

	logging.Debugf("Detected %d face(s) in image", len(result))
	return result, nil
}
