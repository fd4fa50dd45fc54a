package normalize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"conviction-engine/internal/analysis"
	"conviction-engine/internal/models"
)

// DarkPool normalizes daily off-exchange volume into anomaly events.
type DarkPool struct {
	collector analysis.Collector[models.DarkPoolRecord]
	opts      Options
}

// NewDarkPool creates a dark-pool normalizer.
func NewDarkPool(c analysis.Collector[models.DarkPoolRecord], opts Options) *DarkPool {
	return &DarkPool{collector: c, opts: opts}
}

func (n *DarkPool) Source() models.Source { return models.SourceDarkPool }

func (n *DarkPool) Normalize(ctx context.Context, now time.Time) (analysis.Batch, error) {
	return run(ctx, n.collector, n.Parse, now)
}

type darkPoolDay struct {
	raw    models.DarkPoolRecord
	ticker string
	date   time.Time
}

// DarkPoolStats is the statistical context of one day's volume against the
// ticker's own baseline.
type DarkPoolStats struct {
	Z        float64 // standard score of off-exchange volume
	DPI      float64 // off-exchange share of total volume
	MinMax   float64 // volume min-max normalised over baseline and current day
	Baseline int     // number of prior days used
}

// Parse converts daily volume records into events. Each day is compared to
// the ticker's preceding days.
func (n *DarkPool) Parse(records []models.DarkPoolRecord, now time.Time) analysis.Batch {
	batch := analysis.Batch{Source: models.SourceDarkPool, Total: len(records)}

	byTicker := make(map[string][]darkPoolDay)
	seen := make(map[string]struct{})
	for _, rec := range records {
		d, err := n.validate(rec)
		if err != nil {
			batch.Dropped++
			continue
		}
		key := d.ticker + "|" + d.date.Format(models.DateLayout)
		if _, dup := seen[key]; dup {
			batch.Dropped++
			continue
		}
		seen[key] = struct{}{}
		byTicker[d.ticker] = append(byTicker[d.ticker], d)
	}

	tickers := make([]string, 0, len(byTicker))
	for t := range byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		history := byTicker[ticker]
		sort.Slice(history, func(i, j int) bool { return history[i].date.Before(history[j].date) })

		for i, d := range history {
			start := min(i, max(0, i-n.opts.DarkPool.BaselineDays))
			baseline := make([]float64, 0, i-start)
			for _, prior := range history[start:i] {
				baseline = append(baseline, prior.raw.OffExchangeVolume)
			}

			st := n.Stats(d.raw, baseline)
			action := n.classify(st)
			dir, _ := n.opts.Conventions.Direction(models.SourceDarkPool, action)

			batch.Events = append(batch.Events, models.SignalEvent{
				ID:             eventID(models.SourceDarkPool, ticker, d.date),
				Ticker:         ticker,
				Company:        strings.TrimSpace(d.raw.Company),
				Source:         models.SourceDarkPool,
				Action:         action,
				EventDate:      d.date,
				DisclosureDate: d.date,
				Direction:      dir,
				SubScore:       n.SubScore(st),
				Magnitude: map[string]float64{
					"z_score":             st.Z,
					"dpi":                 st.DPI,
					"volume_minmax":       st.MinMax,
					"baseline_days":       float64(st.Baseline),
					"off_exchange_volume": d.raw.OffExchangeVolume,
					"total_volume":        d.raw.TotalVolume,
				},
				Description: fmt.Sprintf("%s off-exchange volume %.0f (%.0f%% of total, z=%.1f)",
					ticker, d.raw.OffExchangeVolume, st.DPI*100, st.Z),
			})
		}
	}

	return batch
}

// Stats computes the z-score, DPI and min-max volume of rec against the
// given baseline volumes. A baseline shorter than the configured minimum
// yields a zero z-score.
func (n *DarkPool) Stats(rec models.DarkPoolRecord, baseline []float64) DarkPoolStats {
	st := DarkPoolStats{Baseline: len(baseline)}
	if rec.TotalVolume > 0 {
		st.DPI = rec.OffExchangeVolume / rec.TotalVolume
	}

	if len(baseline) >= max(n.opts.DarkPool.MinBaseline, 2) {
		mean, errMean := stats.Mean(baseline)
		sd, errSD := stats.StandardDeviationSample(baseline)
		if errMean == nil && errSD == nil && sd > 0 {
			st.Z = (rec.OffExchangeVolume - mean) / sd
		}
	}

	all := append(append([]float64(nil), baseline...), rec.OffExchangeVolume)
	lo, errLo := stats.Min(all)
	hi, errHi := stats.Max(all)
	if errLo == nil && errHi == nil && hi > lo {
		st.MinMax = (rec.OffExchangeVolume - lo) / (hi - lo)
	}

	return st
}

// SubScore scores a day from its anomaly statistics.
func (n *DarkPool) SubScore(st DarkPoolStats) float64 {
	zPts := clampFloat(20*st.Z, 0, 60)
	dpiPts := clampFloat(25*(st.DPI-0.3)/0.3, 0, 25)
	return clampScore(zPts + dpiPts + 15*st.MinMax)
}

// Direction returns the direction of a day evaluated without a baseline,
// which is always neutral. Use Parse to classify days in context.
func (n *DarkPool) Direction(rec models.DarkPoolRecord) models.Direction {
	dir, _ := n.opts.Conventions.Direction(models.SourceDarkPool, n.classify(n.Stats(rec, nil)))
	return dir
}

func (n *DarkPool) classify(st DarkPoolStats) models.Action {
	cfg := n.opts.DarkPool
	switch {
	case st.Z < cfg.ZThreshold:
		return models.ActionNormal
	case st.DPI >= cfg.BullishDPI:
		return models.ActionAccumulation
	case st.DPI <= cfg.BearishDPI:
		return models.ActionDistribution
	default:
		return models.ActionAnomaly
	}
}

func (n *DarkPool) validate(rec models.DarkPoolRecord) (darkPoolDay, error) {
	if err := validate.Struct(rec); err != nil {
		return darkPoolDay{}, err
	}
	date, err := parseDate(rec.Date)
	if err != nil {
		return darkPoolDay{}, err
	}
	return darkPoolDay{raw: rec, ticker: normalizeTicker(rec.Ticker), date: date}, nil
}
