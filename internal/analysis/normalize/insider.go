package normalize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"conviction-engine/internal/analysis"
	"conviction-engine/internal/models"
)

// Insider normalizes Form 4 open-market purchases and sales.
type Insider struct {
	collector analysis.Collector[models.InsiderTransaction]
	opts      Options
}

// NewInsider creates an insider normalizer.
func NewInsider(c analysis.Collector[models.InsiderTransaction], opts Options) *Insider {
	return &Insider{collector: c, opts: opts}
}

func (n *Insider) Source() models.Source { return models.SourceInsider }

func (n *Insider) Normalize(ctx context.Context, now time.Time) (analysis.Batch, error) {
	return run(ctx, n.collector, n.Parse, now)
}

type insiderTrade struct {
	raw     models.InsiderTransaction
	ticker  string
	insider string
	action  models.Action
	dir     models.Direction
	date    time.Time
	value   decimal.Decimal
}

// Parse converts Form 4 transactions into events. Codes other than open
// market purchase (P) and sale (S) are dropped.
func (n *Insider) Parse(records []models.InsiderTransaction, now time.Time) analysis.Batch {
	batch := analysis.Batch{Source: models.SourceInsider, Total: len(records)}
	window := n.opts.Windows.Lookback(models.SourceInsider)

	trades := make([]insiderTrade, 0, len(records))
	cluster := distinctCounter{}
	for _, rec := range records {
		t, err := n.validate(rec)
		if err != nil {
			batch.Dropped++
			continue
		}
		trades = append(trades, t)
		if inWindow(t.date, now, window) {
			cluster.add(t.ticker, t.dir, t.insider)
		}
	}

	for _, t := range trades {
		size := max(cluster.count(t.ticker, t.dir), 1)
		age := now.Sub(t.date)
		decay := decayFactor(n.opts.Decay, age, window)
		value, _ := t.value.Float64()

		batch.Events = append(batch.Events, models.SignalEvent{
			ID:             eventID(models.SourceInsider, t.ticker, t.date, t.insider, string(t.action), t.value.String()),
			Ticker:         t.ticker,
			Company:        strings.TrimSpace(t.raw.Company),
			Source:         models.SourceInsider,
			Action:         t.action,
			EventDate:      t.date,
			DisclosureDate: parseOptionalDate(t.raw.FilingDate, t.date),
			Direction:      t.dir,
			SubScore:       n.SubScore(value, decay, size),
			Magnitude: map[string]float64{
				"value":    value,
				"shares":   t.raw.Shares,
				"decay":    decay,
				"cluster":  float64(size),
				"age_days": days(age),
			},
			Description: insiderDescription(t),
		})
	}

	return batch
}

// SubScore scores a transaction from its dollar value, recency decay and
// the number of insiders trading the same side.
func (n *Insider) SubScore(value, decay float64, cluster int) float64 {
	return clampScore(logPoints(value, 4, 7, 70)*decay + ClusterPoints(cluster))
}

// ClusterPoints rewards several insiders acting together.
func ClusterPoints(cluster int) float64 {
	if cluster >= 3 {
		return 30
	}
	return float64(10 * max(cluster-1, 0))
}

// Direction returns the direction of a raw transaction.
func (n *Insider) Direction(rec models.InsiderTransaction) models.Direction {
	dir, _ := n.opts.Conventions.Direction(models.SourceInsider, insiderAction(rec.TransactionCode))
	return dir
}

func (n *Insider) validate(rec models.InsiderTransaction) (insiderTrade, error) {
	if err := validate.Struct(rec); err != nil {
		return insiderTrade{}, err
	}
	action := insiderAction(rec.TransactionCode)
	if action == "" {
		return insiderTrade{}, fmt.Errorf("unsupported transaction code %q", rec.TransactionCode)
	}
	if !rec.Price.IsPositive() {
		return insiderTrade{}, fmt.Errorf("non-positive price %s", rec.Price)
	}
	date, err := parseDate(rec.TransactionDate)
	if err != nil {
		return insiderTrade{}, err
	}
	return insiderTrade{
		raw:     rec,
		ticker:  normalizeTicker(rec.Ticker),
		insider: normalizeName(rec.Insider),
		action:  action,
		dir:     n.Direction(rec),
		date:    date,
		value:   rec.Price.Mul(decimal.NewFromFloat(rec.Shares)),
	}, nil
}

func insiderAction(code string) models.Action {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "P":
		return models.ActionBuy
	case "S":
		return models.ActionSell
	}
	return ""
}

func insiderDescription(t insiderTrade) string {
	verb := "bought"
	if t.action == models.ActionSell {
		verb = "sold"
	}
	who := strings.TrimSpace(t.raw.Insider)
	if title := strings.TrimSpace(t.raw.Title); title != "" {
		who = fmt.Sprintf("%s (%s)", who, title)
	}
	return fmt.Sprintf("%s %s %.0f shares of %s ($%s)", who, verb, t.raw.Shares, t.ticker, t.value.StringFixed(0))
}
