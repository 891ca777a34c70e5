package vision

import (
	"math"
	"time"
)

// Descriptor is a 128-dimensional face descriptor.
type Descriptor [128]float32

// Gallery is a trained model: labelled reference descriptors.
type Gallery struct {
	Labels     []string     `json:"labels"`
	Samples    []Descriptor `json:"samples"`
	Categories []int32      `json:"categories"`
	ModelKind  string       `json:"model_kind"`
	TrainedAt  time.Time    `json:"trained_at"`
}

// NewGallery creates an empty gallery for the given label set. Labels are
// indexed in the order given.
func NewGallery(modelKind string, labels []string) *Gallery {
	return &Gallery{
		Labels:    append([]string(nil), labels...),
		ModelKind: modelKind,
	}
}

// Add stores a reference descriptor for the label at index category.
func (g *Gallery) Add(category int, d Descriptor) {
	g.Samples = append(g.Samples, d)
	g.Categories = append(g.Categories, int32(category))
}

// Known returns the label set.
func (g *Gallery) Known() IdentitySet {
	return NewIdentitySet(g.Labels...)
}

// SampleCount returns the number of samples recorded for each label.
func (g *Gallery) SampleCount() map[string]int {
	counts := make(map[string]int, len(g.Labels))
	for _, l := range g.Labels {
		counts[l] = 0
	}
	for _, c := range g.Categories {
		if int(c) < len(g.Labels) {
			counts[g.Labels[c]]++
		}
	}
	return counts
}

// Nearest returns the label of the closest sample and its distance.
func (g *Gallery) Nearest(query Descriptor) (string, float64, error) {
	if len(g.Samples) == 0 {
		return "", math.MaxFloat64, ErrEmptyGallery
	}

	bestIdx := 0
	bestDist := math.MaxFloat64
	for i, s := range g.Samples {
		if dist := EuclideanDistance(query, s); dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}

	cat := int(g.Categories[bestIdx])
	if cat < 0 || cat >= len(g.Labels) {
		return "", bestDist, nil
	}
	return g.Labels[cat], bestDist, nil
}

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
