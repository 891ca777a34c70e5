// Package training builds the face gallery from a directory of labelled
// reference images, one sub-directory per person.
package training

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/vision"
)

// ErrNoPeople is returned when the images directory has no person folders.
var ErrNoPeople = errors.New("no person directories found")

// ErrNoSamples is returned when no usable face was found in any image.
var ErrNoSamples = errors.New("no usable face samples found")

// GallerySaver persists a trained gallery.
type GallerySaver interface {
	SaveGallery(g *vision.Gallery) error
}

// Progress is reported once per processed image.
type Progress struct {
	Identity string
	Image    string
	Done     int
	Total    int
	Accepted bool
}

// Options configures a Trainer.
type Options struct {
	ModelKind string
	Progress  func(Progress)
}

// Result summarizes a training run.
type Result struct {
	Gallery  *vision.Gallery
	Sessions []events.TrainingSessionRecord
	Skipped  int
}

// Trainer extracts one descriptor per reference image.
type Trainer struct {
	engine  vision.Engine
	saver   GallerySaver
	store   events.Store
	opts    Options
	nowFunc func() time.Time
}

// New creates a Trainer. store may be nil, in which case training sessions
// are not recorded.
func New(engine vision.Engine, saver GallerySaver, store events.Store, opts Options) *Trainer {
	if opts.ModelKind == "" {
		opts.ModelKind = "dlib_resnet"
	}
	return &Trainer{
		engine:  engine,
		saver:   saver,
		store:   store,
		opts:    opts,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

type person struct {
	name   string
	images []string
}

// scan lists person directories and their JPEG images, both sorted by name.
func scan(imagesDir string) ([]person, int, error) {
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read images directory: %w", err)
	}

	var (
		people []person
		total  int
	)
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		dir := filepath.Join(imagesDir, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s: %w", dir, err)
		}

		p := person{name: e.Name()}
		for _, f := range files {
			ext := strings.ToLower(filepath.Ext(f.Name()))
			if f.IsDir() || (ext != ".jpg" && ext != ".jpeg") {
				continue
			}
			p.images = append(p.images, filepath.Join(dir, f.Name()))
		}
		sort.Strings(p.images)
		total += len(p.images)
		people = append(people, p)
	}

	sort.Slice(people, func(i, j int) bool { return people[i].name < people[j].name })
	return people, total, nil
}

// Train builds a gallery from imagesDir, saves it and records one training
// session per person. Images that cannot be read or that do not contain
// exactly one face are skipped.
func (t *Trainer) Train(ctx context.Context, imagesDir string) (*Result, error) {
	log := logging.Component("training")

	people, total, err := scan(imagesDir)
	if err != nil {
		return nil, err
	}
	if len(people) == 0 {
		return nil, ErrNoPeople
	}

	labels := make([]string, len(people))
	for i, p := range people {
		labels[i] = p.name
	}
	gallery := vision.NewGallery(t.opts.ModelKind, labels)
	counts := make([]int, len(people))

	res := &Result{Gallery: gallery}
	done := 0

	for cat, p := range people {
		for _, path := range p.images {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			accepted := false
			desc, err := t.describe(path)
			if err != nil {
				res.Skipped++
				log.WithError(err).WithField("image", path).Warn("Skipping training image")
			} else {
				gallery.Add(cat, desc)
				counts[cat]++
				accepted = true
			}

			done++
			if t.opts.Progress != nil {
				t.opts.Progress(Progress{Identity: p.name, Image: path, Done: done, Total: total, Accepted: accepted})
			}
		}
	}

	gallery.TrainedAt = t.nowFunc()
	for i, p := range people {
		res.Sessions = append(res.Sessions, events.TrainingSessionRecord{
			Identity:   p.name,
			ImageCount: counts[i],
			ModelKind:  t.opts.ModelKind,
			Timestamp:  gallery.TrainedAt,
			Succeeded:  counts[i] > 0,
		})
	}

	if len(gallery.Samples) > 0 {
		if err := t.saver.SaveGallery(gallery); err != nil {
			return nil, fmt.Errorf("failed to save gallery: %w", err)
		}
	}

	t.recordSessions(ctx, res.Sessions)

	if len(gallery.Samples) == 0 {
		return res, ErrNoSamples
	}

	log.WithFields(logging.Fields{
		"identities": len(labels),
		"samples":    len(gallery.Samples),
		"skipped":    res.Skipped,
	}).Info("Training complete")
	return res, nil
}

func (t *Trainer) describe(path string) (vision.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vision.Descriptor{}, err
	}

	faces, err := t.engine.Detect(data)
	if err != nil {
		return vision.Descriptor{}, err
	}
	if len(faces) != 1 {
		return vision.Descriptor{}, fmt.Errorf("expected exactly one face, found %d", len(faces))
	}
	return faces[0].Descriptor, nil
}

// recordSessions writes the training history. A failed write is logged; the
// gallery is already saved at this point.
func (t *Trainer) recordSessions(ctx context.Context, recs []events.TrainingSessionRecord) {
	if t.store == nil {
		return
	}
	for i := range recs {
		id, err := t.store.InsertTrainingSession(ctx, recs[i])
		if err != nil {
			logging.Component("training").WithError(err).WithField("identity", recs[i].Identity).
				Warn("Failed to record training session")
			continue
		}
		recs[i].ID = id
	}
}
