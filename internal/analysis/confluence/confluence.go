// Package confluence fuses scored events from every source into one
// conviction per ticker.
package confluence

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"conviction-engine/internal/analysis"
	"conviction-engine/internal/analysis/scoring"
	"conviction-engine/internal/config"
	apperrors "conviction-engine/internal/errors"
	"conviction-engine/internal/models"
)

// Config controls the aggregation rules.
type Config struct {
	Windows               config.WindowConfig
	NeutralDampening      float64
	DirectionEpsilon      float64
	ConflictMinWeight     float64
	ConflictPenaltyFactor float64
	BonusPerSource        float64
	BonusCap              float64
	Workers               int
}

// ConfigFrom extracts the aggregation settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Windows:               cfg.Windows,
		NeutralDampening:      cfg.Engine.NeutralDampening,
		DirectionEpsilon:      cfg.Engine.DirectionEpsilon,
		ConflictMinWeight:     cfg.Engine.ConflictMinWeight,
		ConflictPenaltyFactor: cfg.Engine.ConflictPenaltyFactor,
		BonusPerSource:        cfg.Engine.BonusPerSource,
		BonusCap:              cfg.Engine.BonusCap,
		Workers:               cfg.Engine.Workers,
	}
}

// DefaultConfig returns the aggregation settings of the default configuration.
func DefaultConfig() Config {
	return ConfigFrom(config.Default())
}

// Aggregator computes ticker convictions from scored events.
type Aggregator struct {
	cfg Config
}

// NewAggregator creates a new aggregator.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Aggregator{cfg: cfg}
}

// Aggregate builds one conviction per ticker from the events within each
// source's window as of now. Output is sorted by ticker and is identical for
// any ordering of the input.
func (a *Aggregator) Aggregate(ctx context.Context, events []models.SignalEvent, now time.Time, profile analysis.WeightProfile) ([]models.TickerConviction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrAggregationTimeout, err)
	}
	if profile == nil {
		profile = scoring.GeneralProfile{}
	}

	groups := make(map[string][]models.SignalEvent)
	for _, ev := range events {
		if !a.inWindow(ev, now) {
			continue
		}
		groups[ev.Ticker] = append(groups[ev.Ticker], ev)
	}

	tickers := make([]string, 0, len(groups))
	for t := range groups {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	results := make([]models.TickerConviction, len(tickers))
	ok := make([]bool, len(tickers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for i, ticker := range tickers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], ok[i] = a.Convict(ticker, groups[ticker], profile)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrAggregationTimeout, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrAggregationTimeout, err)
	}

	out := make([]models.TickerConviction, 0, len(results))
	for i, c := range results {
		if ok[i] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (a *Aggregator) inWindow(ev models.SignalEvent, now time.Time) bool {
	if ev.EventDate.After(now) {
		return false
	}
	return now.Sub(ev.EventDate) <= a.cfg.Windows.Lookback(ev.Source)
}

// Convict fuses one ticker's in-window events. ok is false when no source
// contributed a non-zero score.
func (a *Aggregator) Convict(ticker string, events []models.SignalEvent, profile analysis.WeightProfile) (c models.TickerConviction, ok bool) {
	events = dedupe(events)
	sort.Slice(events, func(i, j int) bool { return events[i].Less(events[j]) })

	best := make(map[models.Source]models.SignalEvent)
	for _, ev := range events {
		cur, seen := best[ev.Source]
		if !seen || ev.SubScore > cur.SubScore {
			best[ev.Source] = ev
		}
	}

	c = models.TickerConviction{
		Ticker:         ticker,
		Profile:        profile.Name(),
		PerSourceScore: make(map[models.Source]float64),
		Sources:        []models.Source{},
		Details:        []models.SignalEvent{},
	}

	var bull, bear, neutral float64
	for _, src := range models.AllSources() {
		ev, found := best[src]
		if !found || ev.SubScore <= 0 {
			continue
		}
		c.PerSourceScore[src] = ev.SubScore
		c.Sources = append(c.Sources, src)

		switch ev.Direction {
		case models.Bullish:
			bull += ev.SubScore
		case models.Bearish:
			bear += ev.SubScore
		default:
			neutral += ev.SubScore * a.cfg.NeutralDampening
		}
	}
	if len(c.Sources) == 0 {
		return models.TickerConviction{}, false
	}
	c.SourceCount = len(c.Sources)
	c.Direction = a.direction(bull, bear, neutral)

	if c.Direction != models.Neutral {
		for _, src := range c.Sources {
			if best[src].Direction == c.Direction {
				c.AlignedSourceCount++
			}
		}
	}

	c.BaseScore = profile.Combine(c.PerSourceScore)
	c.MultiSourceBonus = a.bonus(c.AlignedSourceCount)
	c.ConflictPenalty = a.penalty(bull, bear)
	c.FinalScore = scoring.Clamp(c.BaseScore+c.MultiSourceBonus-c.ConflictPenalty, 0, 100)

	for _, ev := range events {
		if ev.SubScore <= 0 || !c.HasSource(ev.Source) {
			continue
		}
		c.Details = append(c.Details, ev)
		if ev.EventDate.After(c.SignalDate) {
			c.SignalDate = ev.EventDate
		}
		if c.Company == "" && ev.Company != "" {
			c.Company = ev.Company
		}
	}

	return c, true
}

// direction resolves the net vote of source weights.
func (a *Aggregator) direction(bull, bear, neutral float64) models.Direction {
	total := bull + bear + neutral
	if bull+bear == 0 || total == 0 {
		return models.Neutral
	}
	net := (bull - bear) / total
	switch {
	case math.Abs(net) < a.cfg.DirectionEpsilon:
		return models.Neutral
	case net > 0:
		return models.Bullish
	default:
		return models.Bearish
	}
}

// bonus rewards independent sources agreeing on the direction.
func (a *Aggregator) bonus(aligned int) float64 {
	if aligned < 2 {
		return 0
	}
	return min(a.cfg.BonusPerSource*float64(aligned-1), a.cfg.BonusCap)
}

// penalty applies when both sides carry material weight.
func (a *Aggregator) penalty(bull, bear float64) float64 {
	if bull < a.cfg.ConflictMinWeight || bear < a.cfg.ConflictMinWeight {
		return 0
	}
	return a.cfg.ConflictPenaltyFactor * min(bull, bear)
}

// dedupe keeps one event per ID, the one with the highest sub-score.
// Ties go to the event that sorts first, so input order never decides.
func dedupe(events []models.SignalEvent) []models.SignalEvent {
	byID := make(map[string]int, len(events))
	out := make([]models.SignalEvent, 0, len(events))
	for _, ev := range events {
		if i, seen := byID[ev.ID]; seen {
			if preferred(ev, out[i]) {
				out[i] = ev
			}
			continue
		}
		byID[ev.ID] = len(out)
		out = append(out, ev)
	}
	return out
}

func preferred(a, b models.SignalEvent) bool {
	switch {
	case a.SubScore != b.SubScore:
		return a.SubScore > b.SubScore
	case a.Less(b):
		return true
	case b.Less(a):
		return false
	case !a.DisclosureDate.Equal(b.DisclosureDate):
		return a.DisclosureDate.After(b.DisclosureDate)
	case a.Action != b.Action:
		return a.Action < b.Action
	case a.Company != b.Company:
		return a.Company < b.Company
	}
	return a.Description < b.Description
}
