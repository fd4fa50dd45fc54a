// Package normalize converts raw provider records of each source into
// SignalEvents. Records that fail validation are counted and dropped; they
// never fail the batch.
package normalize

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"conviction-engine/internal/analysis"
	"conviction-engine/internal/analysis/scoring"
	"conviction-engine/internal/config"
	"conviction-engine/internal/logging"
	"conviction-engine/internal/models"
)

const day = 24 * time.Hour

var (
	validate = validator.New()

	// eventNamespace seeds deterministic event IDs.
	eventNamespace = uuid.MustParse("6f1c2a7e-3b0d-5c4f-9a8e-2d7b1e6f0c31")

	dateLayouts = []string{"2006-01-02", "01/02/2006", time.RFC3339}
)

// Options carries the settings every normalizer needs.
type Options struct {
	Windows       config.WindowConfig
	Decay         config.DecayConfig
	DarkPool      config.DarkPoolConfig
	ShortInterest config.ShortInterestConfig
	Conventions   scoring.Conventions
	Tables        *Tables
}

// OptionsFromConfig builds normalizer options from the application config.
func OptionsFromConfig(cfg *config.Config, tables *Tables) Options {
	squeeze, err := models.ParseDirection(cfg.ShortInterest.SqueezeDirection)
	if err != nil {
		squeeze = models.Neutral
	}
	return Options{
		Windows:       cfg.Windows,
		Decay:         cfg.Decay,
		DarkPool:      cfg.DarkPool,
		ShortInterest: cfg.ShortInterest,
		Conventions:   scoring.NewConventions(squeeze),
		Tables:        tables,
	}
}

// DefaultOptions returns options built from the default configuration and
// the embedded tables.
func DefaultOptions() Options {
	tables, _ := LoadTables("")
	return OptionsFromConfig(config.Default(), tables)
}

// run fetches records from the collector and parses them.
func run[R any](ctx context.Context, c analysis.Collector[R], parse func([]R, time.Time) analysis.Batch, now time.Time) (analysis.Batch, error) {
	records, err := c.Collect(ctx)
	if err != nil {
		return analysis.Batch{}, fmt.Errorf("collecting records: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return analysis.Batch{}, err
	}

	batch := parse(records, now)
	if batch.Dropped > 0 {
		l := logging.WithSource(logging.FromContext(ctx), string(batch.Source))
		l.Debug().
			Int("records", len(records)).
			Int("dropped", batch.Dropped).
			Msg("Dropped malformed records")
	}
	return batch, nil
}

// parseDate parses a provider date in any accepted layout, normalised to a
// UTC calendar date.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.UTC().Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// parseOptionalDate returns fallback when s is empty or unparseable.
func parseOptionalDate(s string, fallback time.Time) time.Time {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	t, err := parseDate(s)
	if err != nil {
		return fallback
	}
	return t
}

func normalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// normalizeName canonicalises people and institution names for counting and lookup.
func normalizeName(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// eventID derives a stable ID from the identifying fields of a record.
func eventID(src models.Source, ticker string, date time.Time, key ...string) string {
	parts := append([]string{string(src), ticker, date.Format("2006-01-02")}, key...)
	return uuid.NewSHA1(eventNamespace, []byte(strings.Join(parts, "|"))).String()
}

// inWindow reports whether date lies within lookback before now.
func inWindow(date, now time.Time, lookback time.Duration) bool {
	age := now.Sub(date)
	return age >= 0 && age <= lookback
}

// decayFactor returns the recency weight of an event age.
func decayFactor(cfg config.DecayConfig, age, window time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	switch cfg.Mode {
	case "linear":
		if window <= 0 {
			return 1
		}
		return math.Max(0, 1-float64(age)/float64(window))
	default:
		halfLife := cfg.HalfLifeDays
		if halfLife <= 0 {
			halfLife = 30
		}
		return math.Pow(0.5, days(age)/halfLife)
	}
}

// logPoints maps v onto [0, pts] linearly in log10 space between lo and hi decades.
func logPoints(v, lo, hi, pts float64) float64 {
	if v <= 0 {
		return 0
	}
	return scoring.Clamp((math.Log10(v)-lo)/(hi-lo), 0, 1) * pts
}

// distinctKey is a ticker plus direction bucket used for distinct-actor counts.
type distinctKey struct {
	ticker string
	dir    models.Direction
}

// distinctCounter counts distinct actors per ticker and direction.
type distinctCounter map[distinctKey]map[string]struct{}

func (c distinctCounter) add(ticker string, dir models.Direction, actor string) {
	k := distinctKey{ticker, dir}
	if c[k] == nil {
		c[k] = make(map[string]struct{})
	}
	c[k][actor] = struct{}{}
}

func (c distinctCounter) count(ticker string, dir models.Direction) int {
	return len(c[distinctKey{ticker, dir}])
}

func clampScore(v float64) float64 {
	return scoring.Clamp(v, 0, 100)
}

func clampFloat(v, lo, hi float64) float64 {
	return scoring.Clamp(v, lo, hi)
}

// days converts a duration to fractional days.
func days(d time.Duration) float64 {
	return float64(d) / float64(day)
}
