package scoring

import (
	"fmt"

	"conviction-engine/internal/analysis"
	"conviction-engine/internal/models"
)

// Profile names.
const (
	ProfileGeneral = "general"
	ProfileCrisis  = "crisis"
)

// GeneralProfile is the ranking profile: the unweighted mean of every
// source that contributed a non-zero score.
type GeneralProfile struct{}

func (GeneralProfile) Name() string { return ProfileGeneral }

func (GeneralProfile) Combine(scores map[models.Source]float64) float64 {
	var total float64
	var n int
	for _, src := range models.AllSources() {
		if s := scores[src]; s > 0 {
			total += s
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return Clamp(total/float64(n), 0, 100)
}

// CrisisProfile applies fixed per-source weights summing to 100. Sources
// without a weight do not contribute.
type CrisisProfile struct {
	Weights map[models.Source]float64
}

// DefaultCrisisWeights returns the stock crisis weights.
func DefaultCrisisWeights() map[models.Source]float64 {
	return map[models.Source]float64{
		models.SourceCongress:      25,
		models.SourceInsider:       25,
		models.SourceInstitutional: 20,
		models.SourceARK:           15,
		models.SourceDarkPool:      15,
	}
}

// NewCrisisProfile creates a crisis profile, falling back to the default
// weights when none are given.
func NewCrisisProfile(weights map[models.Source]float64) CrisisProfile {
	if len(weights) == 0 {
		weights = DefaultCrisisWeights()
	}
	copied := make(map[models.Source]float64, len(weights))
	for src, w := range weights {
		copied[src] = w
	}
	return CrisisProfile{Weights: copied}
}

func (CrisisProfile) Name() string { return ProfileCrisis }

func (p CrisisProfile) Combine(scores map[models.Source]float64) float64 {
	var total float64
	for _, src := range models.AllSources() {
		total += p.Weights[src] * scores[src]
	}
	return Clamp(total/100, 0, 100)
}

// ProfileByName selects a weight profile by the caller's context.
func ProfileByName(name string, crisisWeights map[models.Source]float64) (analysis.WeightProfile, error) {
	switch name {
	case "", ProfileGeneral:
		return GeneralProfile{}, nil
	case ProfileCrisis:
		return NewCrisisProfile(crisisWeights), nil
	}
	return nil, fmt.Errorf("unknown weight profile: %q", name)
}
