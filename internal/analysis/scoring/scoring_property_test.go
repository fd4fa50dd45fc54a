package scoring

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"conviction-engine/internal/models"
)

// Property: for any raw strength, the scorer emits a sub-score in [0, 100]
// and a significance tier matching the fixed cutoffs:
//    - strength >= 70: high
//    - strength >= 40: medium
//    - otherwise: low

func scoredEvent(score float64) models.SignalEvent {
	return models.SignalEvent{
		ID:        "ev",
		Ticker:    "XYZ",
		Source:    models.SourceInsider,
		Action:    models.ActionBuy,
		EventDate: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		SubScore:  score,
	}
}

// TestProperty_SubScoreWithinBounds tests that scored events are clamped to [0, 100]
func TestProperty_SubScoreWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	scorer := NewScorer(DefaultConventions(), zerolog.Nop())

	properties.Property("Sub-score is within [0, 100]", prop.ForAll(
		func(raw float64) bool {
			ev, err := scorer.ScoreEvent(scoredEvent(raw))
			if err != nil {
				return false
			}
			return ev.SubScore >= 0 && ev.SubScore <= 100
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}

// TestProperty_SignificanceMapping tests that significance follows the cutoffs
func TestProperty_SignificanceMapping(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	scorer := NewScorer(DefaultConventions(), zerolog.Nop())

	properties.Property("Significance matches cutoffs", prop.ForAll(
		func(raw float64) bool {
			ev, err := scorer.ScoreEvent(scoredEvent(raw))
			if err != nil {
				return false
			}
			switch {
			case ev.SubScore >= 70:
				return ev.Significance == models.SignificanceHigh
			case ev.SubScore >= 40:
				return ev.Significance == models.SignificanceMedium
			default:
				return ev.Significance == models.SignificanceLow
			}
		},
		gen.Float64Range(-50, 150),
	))

	properties.Property("Higher strength never maps to a lower tier", prop.ForAll(
		func(a, b float64) bool {
			if a > b {
				return SignificanceOf(a).Rank() <= SignificanceOf(b).Rank()
			}
			return SignificanceOf(a).Rank() >= SignificanceOf(b).Rank()
		},
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}

// TestProperty_GeneralProfileBounded tests that the general profile stays
// between the smallest and largest contributing score
func TestProperty_GeneralProfileBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("General base score lies within contributing scores", prop.ForAll(
		func(values []float64) bool {
			scores := make(map[models.Source]float64)
			lo, hi := 100.0, 0.0
			for i, src := range models.AllSources() {
				if i >= len(values) {
					break
				}
				scores[src] = values[i]
				if values[i] > 0 {
					lo = min(lo, values[i])
					hi = max(hi, values[i])
				}
			}
			base := GeneralProfile{}.Combine(scores)
			if hi == 0 {
				return base == 0
			}
			return base >= lo-1e-9 && base <= hi+1e-9
		},
		gen.SliceOfN(7, gen.Float64Range(0, 100)),
	))

	properties.TestingRun(t)
}
