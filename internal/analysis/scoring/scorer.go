// Package scoring provides per-source event scoring and the weight profiles
// used to combine source scores.
package scoring

import (
	"math"

	"github.com/rs/zerolog"

	"conviction-engine/internal/analysis"
	"conviction-engine/internal/errors"
	"conviction-engine/internal/logging"
	"conviction-engine/internal/models"
)

// Significance cutoffs on raw event strength.
const (
	HighCutoff   = 70.0
	MediumCutoff = 40.0
)

// Scorer validates normalizer output, clamps sub-scores and assigns
// significance and direction.
type Scorer struct {
	conventions Conventions
	logger      zerolog.Logger
}

// NewScorer creates a new scorer with the given sign conventions.
func NewScorer(conventions Conventions, logger zerolog.Logger) *Scorer {
	return &Scorer{
		conventions: conventions,
		logger:      logger,
	}
}

// Score returns a copy of the batch holding only valid, scored events.
// Rejected events are added to Dropped.
func (s *Scorer) Score(batch analysis.Batch) analysis.Batch {
	out := analysis.Batch{
		Source:  batch.Source,
		Total:   batch.Total,
		Dropped: batch.Dropped,
		Events:  make([]models.SignalEvent, 0, len(batch.Events)),
	}

	logger := logging.WithSource(s.logger, string(batch.Source))
	for _, ev := range batch.Events {
		scored, err := s.ScoreEvent(ev)
		if err != nil {
			out.Dropped++
			l := logging.WithTicker(logger, ev.Ticker)
			l.Debug().Err(err).Str("event_id", ev.ID).Msg("Dropping event")
			continue
		}
		out.Events = append(out.Events, scored)
	}

	return out
}

// ScoreEvent validates and scores a single event.
func (s *Scorer) ScoreEvent(ev models.SignalEvent) (models.SignalEvent, error) {
	reject := func(field, reason string) (models.SignalEvent, error) {
		return models.SignalEvent{}, errors.NewRecordError(string(ev.Source), ev.Ticker, field, reason)
	}

	if !ev.Source.Valid() {
		return reject("source", "unknown source")
	}
	if ev.Ticker == "" {
		return reject("ticker", "empty")
	}
	if ev.EventDate.IsZero() {
		return reject("event_date", "missing")
	}
	if math.IsNaN(ev.SubScore) || math.IsInf(ev.SubScore, 0) {
		return reject("sub_score", "not a finite number")
	}

	dir, ok := s.conventions.Direction(ev.Source, ev.Action)
	if !ok {
		return reject("action", "unknown action "+string(ev.Action))
	}

	ev.SubScore = Clamp(ev.SubScore, 0, 100)
	ev.Direction = dir
	ev.Significance = SignificanceOf(ev.SubScore)
	return ev, nil
}

// SignificanceOf maps a raw strength to its feed tier.
func SignificanceOf(strength float64) models.Significance {
	switch {
	case strength >= HighCutoff:
		return models.SignificanceHigh
	case strength >= MediumCutoff:
		return models.SignificanceMedium
	default:
		return models.SignificanceLow
	}
}

// Clamp restricts a value to the given range.
func Clamp(value, minVal, maxVal float64) float64 {
	if value < minVal {
		return minVal
	}
	if value > maxVal {
		return maxVal
	}
	return value
}
