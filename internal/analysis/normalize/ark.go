package normalize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"conviction-engine/internal/analysis"
	"conviction-engine/internal/models"
)

// positionTypeWeight ranks position changes by magnitude.
var positionTypeWeight = map[models.Action]float64{
	models.ActionNewPosition: 1.0,
	models.ActionIncreased:   0.8,
	models.ActionDecreased:   0.6,
	models.ActionSoldOut:     0.4,
}

// ARK normalizes ARK Invest daily trade notifications.
type ARK struct {
	collector analysis.Collector[models.ARKTrade]
	opts      Options
}

// NewARK creates an ARK normalizer.
func NewARK(c analysis.Collector[models.ARKTrade], opts Options) *ARK {
	return &ARK{collector: c, opts: opts}
}

func (n *ARK) Source() models.Source { return models.SourceARK }

func (n *ARK) Normalize(ctx context.Context, now time.Time) (analysis.Batch, error) {
	return run(ctx, n.collector, n.Parse, now)
}

type arkTrade struct {
	raw    models.ARKTrade
	ticker string
	fund   string
	action models.Action
	dir    models.Direction
	date   time.Time
}

// Parse converts raw fund trades into events.
func (n *ARK) Parse(records []models.ARKTrade, now time.Time) analysis.Batch {
	batch := analysis.Batch{Source: models.SourceARK, Total: len(records)}
	window := n.opts.Windows.Lookback(models.SourceARK)

	trades := make([]arkTrade, 0, len(records))
	funds := distinctCounter{}
	for _, rec := range records {
		t, err := n.validate(rec)
		if err != nil {
			batch.Dropped++
			continue
		}
		trades = append(trades, t)
		if inWindow(t.date, now, window) {
			funds.add(t.ticker, t.dir, t.fund)
		}
	}

	for _, t := range trades {
		count := max(funds.count(t.ticker, t.dir), 1)
		batch.Events = append(batch.Events, models.SignalEvent{
			ID:             eventID(models.SourceARK, t.ticker, t.date, t.fund, string(t.action)),
			Ticker:         t.ticker,
			Company:        strings.TrimSpace(t.raw.Company),
			Source:         models.SourceARK,
			Action:         t.action,
			EventDate:      t.date,
			DisclosureDate: t.date,
			Direction:      t.dir,
			SubScore:       n.SubScore(count, t.raw.Shares, t.action),
			Magnitude: map[string]float64{
				"funds":       float64(count),
				"shares":      t.raw.Shares,
				"type_weight": positionTypeWeight[t.action],
				"etf_percent": t.raw.ETFPercent,
			},
			Description: fmt.Sprintf("%s %s %s: %.0f shares (%s)",
				strings.ToUpper(t.raw.Fund), strings.ToLower(t.raw.Direction), t.ticker, t.raw.Shares, t.action),
		})
	}

	return batch
}

// SubScore scores a fund trade from the number of funds acting, shares
// traded and the position-type weight.
func (n *ARK) SubScore(funds int, shares float64, positionType models.Action) float64 {
	typePts := 50 * positionTypeWeight[positionType]
	fundPts := min(15*float64(funds-1), 30)
	sharePts := logPoints(shares, 3, 7, 20)
	return clampScore(typePts + fundPts + sharePts)
}

// Direction returns the direction of a raw trade.
func (n *ARK) Direction(rec models.ARKTrade) models.Direction {
	action, err := arkAction(rec)
	if err != nil {
		return models.Neutral
	}
	dir, _ := n.opts.Conventions.Direction(models.SourceARK, action)
	return dir
}

func (n *ARK) validate(rec models.ARKTrade) (arkTrade, error) {
	if err := validate.Struct(rec); err != nil {
		return arkTrade{}, err
	}
	date, err := parseDate(rec.Date)
	if err != nil {
		return arkTrade{}, err
	}
	action, err := arkAction(rec)
	if err != nil {
		return arkTrade{}, err
	}
	return arkTrade{
		raw:    rec,
		ticker: normalizeTicker(rec.Ticker),
		fund:   normalizeName(rec.Fund),
		action: action,
		dir:    n.Direction(rec),
		date:   date,
	}, nil
}

// arkAction resolves the position type and checks it agrees with the trade side.
func arkAction(rec models.ARKTrade) (models.Action, error) {
	action := models.Action(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(rec.PositionType), " ", "_")))
	if _, ok := positionTypeWeight[action]; !ok {
		return "", fmt.Errorf("unknown position type %q", rec.PositionType)
	}

	buying := action == models.ActionNewPosition || action == models.ActionIncreased
	switch strings.ToLower(strings.TrimSpace(rec.Direction)) {
	case "buy":
		if !buying {
			return "", fmt.Errorf("buy with position type %s", action)
		}
	case "sell":
		if buying {
			return "", fmt.Errorf("sell with position type %s", action)
		}
	default:
		return "", fmt.Errorf("unknown trade direction %q", rec.Direction)
	}
	return action, nil
}
