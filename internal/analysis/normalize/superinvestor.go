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

// Superinvestor normalizes quarterly portfolios of tracked managers.
// Holdings of managers not on the tracked list are ignored.
type Superinvestor struct {
	collector analysis.Collector[models.SuperinvestorHolding]
	opts      Options
}

// NewSuperinvestor creates a superinvestor normalizer.
func NewSuperinvestor(c analysis.Collector[models.SuperinvestorHolding], opts Options) *Superinvestor {
	return &Superinvestor{collector: c, opts: opts}
}

func (n *Superinvestor) Source() models.Source { return models.SourceSuperinvestor }

func (n *Superinvestor) Normalize(ctx context.Context, now time.Time) (analysis.Batch, error) {
	return run(ctx, n.collector, n.Parse, now)
}

type superHolding struct {
	raw     models.SuperinvestorHolding
	ticker  string
	manager string
	action  models.Action
	quarter time.Time
}

// Parse converts tracked managers' holdings into events.
func (n *Superinvestor) Parse(records []models.SuperinvestorHolding, now time.Time) analysis.Batch {
	batch := analysis.Batch{Source: models.SourceSuperinvestor, Total: len(records)}
	window := n.opts.Windows.Lookback(models.SourceSuperinvestor)

	holdings := make([]superHolding, 0, len(records))
	holders := distinctCounter{}
	for _, rec := range records {
		if !n.opts.Tables.Tracked(rec.Manager) {
			continue
		}
		h, err := n.validate(rec)
		if err != nil {
			batch.Dropped++
			continue
		}
		holdings = append(holdings, h)
		if h.action != models.ActionSoldOut && inWindow(h.quarter, now, window) {
			holders.add(h.ticker, models.Neutral, h.manager)
		}
	}

	for _, h := range holdings {
		managers := holders.count(h.ticker, models.Neutral)
		batch.Events = append(batch.Events, models.SignalEvent{
			ID:             eventID(models.SourceSuperinvestor, h.ticker, h.quarter, h.manager),
			Ticker:         h.ticker,
			Company:        strings.TrimSpace(h.raw.Company),
			Source:         models.SourceSuperinvestor,
			Action:         h.action,
			EventDate:      h.quarter,
			DisclosureDate: parseOptionalDate(h.raw.FilingDate, h.quarter),
			Direction:      n.Direction(h.raw),
			SubScore:       n.SubScore(managers, h.raw.Rank, h.raw.ChangePercent),
			Magnitude: map[string]float64{
				"managers":          float64(managers),
				"rank":              float64(h.raw.Rank),
				"portfolio_percent": h.raw.PortfolioPercent,
				"change_percent":    h.raw.ChangePercent,
			},
			Description: fmt.Sprintf("%s %s %s (#%d, %.1f%% of portfolio)",
				strings.TrimSpace(h.raw.Manager), positionVerb(h.action), h.ticker, h.raw.Rank, h.raw.PortfolioPercent),
		})
	}

	return batch
}

// SubScore scores a holding from the number of tracked managers holding the
// ticker, its rank in the manager's portfolio and the quarter's change.
func (n *Superinvestor) SubScore(managers, rank int, changePct float64) float64 {
	managerPts := min(15*float64(managers), 45)
	rankPts := clampFloat(33-3*float64(rank), 0, 30)
	changePts := min(math.Abs(changePct), 100) * 0.25
	return clampScore(managerPts + rankPts + changePts)
}

// Direction returns the direction of a raw holding.
func (n *Superinvestor) Direction(rec models.SuperinvestorHolding) models.Direction {
	dir, _ := n.opts.Conventions.Direction(models.SourceSuperinvestor, superinvestorAction(rec.Activity))
	return dir
}

func (n *Superinvestor) validate(rec models.SuperinvestorHolding) (superHolding, error) {
	if err := validate.Struct(rec); err != nil {
		return superHolding{}, err
	}
	action := superinvestorAction(rec.Activity)
	if action == "" {
		return superHolding{}, fmt.Errorf("unknown activity %q", rec.Activity)
	}
	quarter, err := parseDate(rec.QuarterEnd)
	if err != nil {
		return superHolding{}, err
	}
	return superHolding{
		raw:     rec,
		ticker:  normalizeTicker(rec.Ticker),
		manager: normalizeName(rec.Manager),
		action:  action,
		quarter: quarter,
	}, nil
}

func superinvestorAction(activity string) models.Action {
	switch strings.ToLower(strings.TrimSpace(activity)) {
	case "buy":
		return models.ActionNewPosition
	case "add":
		return models.ActionIncreased
	case "reduce":
		return models.ActionDecreased
	case "sell":
		return models.ActionSoldOut
	case "hold":
		return models.ActionHold
	}
	return ""
}
