package normalize

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"conviction-engine/internal/analysis"
	"conviction-engine/internal/models"
)

// ShortInterest normalizes exchange short-interest reports.
type ShortInterest struct {
	collector analysis.Collector[models.ShortInterestReport]
	opts      Options
}

// NewShortInterest creates a short-interest normalizer.
func NewShortInterest(c analysis.Collector[models.ShortInterestReport], opts Options) *ShortInterest {
	return &ShortInterest{collector: c, opts: opts}
}

func (n *ShortInterest) Source() models.Source { return models.SourceShortInterest }

func (n *ShortInterest) Normalize(ctx context.Context, now time.Time) (analysis.Batch, error) {
	return run(ctx, n.collector, n.Parse, now)
}

// ShortMetrics are the derived short-interest ratios of one report.
type ShortMetrics struct {
	PctFloat    float64 // short interest as a percentage of float
	DaysToCover float64 // short interest over average daily volume
	ChangePct   float64 // change against the prior report
	HasPrior    bool
}

// Metrics derives the ratios of a report.
func Metrics(rec models.ShortInterestReport) ShortMetrics {
	m := ShortMetrics{
		PctFloat:    rec.ShortInterest / rec.FloatShares * 100,
		DaysToCover: rec.ShortInterest / rec.AvgDailyVolume,
	}
	if rec.PriorShortInterest > 0 {
		m.ChangePct = (rec.ShortInterest - rec.PriorShortInterest) / rec.PriorShortInterest * 100
		m.HasPrior = true
	}
	return m
}

// Parse converts short-interest reports into events.
func (n *ShortInterest) Parse(records []models.ShortInterestReport, now time.Time) analysis.Batch {
	batch := analysis.Batch{Source: models.SourceShortInterest, Total: len(records)}

	for _, rec := range records {
		if err := validate.Struct(rec); err != nil {
			batch.Dropped++
			continue
		}
		settled, err := parseDate(rec.SettlementDate)
		if err != nil {
			batch.Dropped++
			continue
		}

		ticker := normalizeTicker(rec.Ticker)
		m := Metrics(rec)
		action := n.classify(m)
		dir, _ := n.opts.Conventions.Direction(models.SourceShortInterest, action)

		batch.Events = append(batch.Events, models.SignalEvent{
			ID:             eventID(models.SourceShortInterest, ticker, settled),
			Ticker:         ticker,
			Company:        strings.TrimSpace(rec.Company),
			Source:         models.SourceShortInterest,
			Action:         action,
			EventDate:      settled,
			DisclosureDate: parseOptionalDate(rec.PublishDate, settled),
			Direction:      dir,
			SubScore:       n.SubScore(m),
			Magnitude: map[string]float64{
				"pct_float":      m.PctFloat,
				"days_to_cover":  m.DaysToCover,
				"change_percent": m.ChangePct,
				"short_interest": rec.ShortInterest,
			},
			Description: shortDescription(ticker, action, m),
		})
	}

	return batch
}

// SubScore scores a report from its float percentage, days to cover and
// change against the prior report.
func (n *ShortInterest) SubScore(m ShortMetrics) float64 {
	pctPts := min(50*m.PctFloat/30, 50)
	dtcPts := min(30*m.DaysToCover/10, 30)
	changePts := min(20*math.Abs(m.ChangePct)/50, 20)
	return clampScore(pctPts + dtcPts + changePts)
}

// Direction returns the direction of a raw report.
func (n *ShortInterest) Direction(rec models.ShortInterestReport) models.Direction {
	dir, _ := n.opts.Conventions.Direction(models.SourceShortInterest, n.classify(Metrics(rec)))
	return dir
}

func (n *ShortInterest) classify(m ShortMetrics) models.Action {
	cfg := n.opts.ShortInterest
	switch {
	case m.PctFloat >= cfg.SqueezeMinPctFloat && m.DaysToCover >= cfg.SqueezeMinDaysToCover:
		return models.ActionSqueezeSetup
	case m.HasPrior && m.ChangePct >= cfg.FlatChangePct:
		return models.ActionShortIncrease
	case m.HasPrior && m.ChangePct <= -cfg.FlatChangePct:
		return models.ActionShortDecrease
	default:
		return models.ActionShortFlat
	}
}

func shortDescription(ticker string, action models.Action, m ShortMetrics) string {
	switch action {
	case models.ActionSqueezeSetup:
		return fmt.Sprintf("%s squeeze setup: %.1f%% of float short, %.1f days to cover", ticker, m.PctFloat, m.DaysToCover)
	case models.ActionShortIncrease:
		return fmt.Sprintf("%s short interest up %.1f%% to %.1f%% of float", ticker, m.ChangePct, m.PctFloat)
	case models.ActionShortDecrease:
		return fmt.Sprintf("%s short interest down %.1f%% to %.1f%% of float", ticker, -m.ChangePct, m.PctFloat)
	default:
		return fmt.Sprintf("%s short interest flat at %.1f%% of float", ticker, m.PctFloat)
	}
}
