package confluence

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"conviction-engine/internal/analysis/scoring"
	"conviction-engine/internal/models"
)

// Property: for any set of scored events, every conviction satisfies:
//    - base and final scores lie in [0, 100]
//    - the bonus is zero below two aligned sources, otherwise
//      min(20*(aligned-1), 40)
//    - aligned sources never exceed contributing sources
//    - details only reference contributing sources

func convictionsFor(seed int64, n int, profile string) []models.TickerConviction {
	events := randomEvents(rand.New(rand.NewSource(seed)), n)
	p, _ := scoring.ProfileByName(profile, nil)
	out, err := NewAggregator(DefaultConfig()).Aggregate(context.Background(), events, now, p)
	if err != nil {
		return nil
	}
	return out
}

// TestProperty_ScoresWithinBounds tests that base and final scores are clamped
func TestProperty_ScoresWithinBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Final score is within [0, 100]", prop.ForAll(
		func(seed int64, n int, profile string) bool {
			for _, c := range convictionsFor(seed, n, profile) {
				if c.FinalScore < 0 || c.FinalScore > 100 || c.BaseScore < 0 || c.BaseScore > 100 {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 60),
		gen.OneConstOf(scoring.ProfileGeneral, scoring.ProfileCrisis),
	))

	properties.TestingRun(t)
}

// TestProperty_BonusInvariant tests the multi-source bonus rule
func TestProperty_BonusInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Bonus follows aligned source count", prop.ForAll(
		func(seed int64, n int) bool {
			for _, c := range convictionsFor(seed, n, scoring.ProfileGeneral) {
				if c.AlignedSourceCount > c.SourceCount {
					return false
				}
				if c.Direction == models.Neutral && c.AlignedSourceCount != 0 {
					return false
				}
				want := 0.0
				if c.AlignedSourceCount >= 2 {
					want = min(20*float64(c.AlignedSourceCount-1), 40)
				}
				if c.MultiSourceBonus != want {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 60),
	))

	properties.Property("Single-source tickers never receive a bonus", prop.ForAll(
		func(seed int64, n int) bool {
			for _, c := range convictionsFor(seed, n, scoring.ProfileGeneral) {
				if c.SourceCount == 1 && c.MultiSourceBonus != 0 {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

// TestProperty_DetailsMatchSources tests that details and sources agree
func TestProperty_DetailsMatchSources(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("Every detail comes from a contributing source", prop.ForAll(
		func(seed int64, n int) bool {
			for _, c := range convictionsFor(seed, n, scoring.ProfileGeneral) {
				if len(c.Sources) != c.SourceCount || len(c.PerSourceScore) != c.SourceCount {
					return false
				}
				seen := make(map[models.Source]bool)
				for i, d := range c.Details {
					if !c.HasSource(d.Source) || d.Ticker != c.Ticker {
						return false
					}
					if i > 0 && c.Details[i-1].EventDate.Before(d.EventDate) {
						return false
					}
					seen[d.Source] = true
				}
				if len(seen) != c.SourceCount {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 60),
	))

	properties.TestingRun(t)
}
