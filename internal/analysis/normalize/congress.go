package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"conviction-engine/internal/analysis"
	"conviction-engine/internal/models"
)

var amountPattern = regexp.MustCompile(`\d[\d,]*(\.\d+)?`)

// Congress normalizes congressional periodic transaction reports.
type Congress struct {
	collector analysis.Collector[models.CongressTrade]
	opts      Options
}

// NewCongress creates a congress normalizer.
func NewCongress(c analysis.Collector[models.CongressTrade], opts Options) *Congress {
	return &Congress{collector: c, opts: opts}
}

func (n *Congress) Source() models.Source { return models.SourceCongress }

func (n *Congress) Normalize(ctx context.Context, now time.Time) (analysis.Batch, error) {
	return run(ctx, n.collector, n.Parse, now)
}

type congressTrade struct {
	raw       models.CongressTrade
	ticker    string
	member    string
	action    models.Action
	dir       models.Direction
	date      time.Time
	disclosed time.Time
	midpoint  float64
}

// Parse converts raw trades into events.
func (n *Congress) Parse(records []models.CongressTrade, now time.Time) analysis.Batch {
	batch := analysis.Batch{Source: models.SourceCongress, Total: len(records)}
	window := n.opts.Windows.Lookback(models.SourceCongress)

	trades := make([]congressTrade, 0, len(records))
	members := distinctCounter{}
	for _, rec := range records {
		t, err := n.validate(rec)
		if err != nil {
			batch.Dropped++
			continue
		}
		trades = append(trades, t)
		if inWindow(t.date, now, window) {
			members.add(t.ticker, t.dir, t.member)
		}
	}

	for _, t := range trades {
		count := max(members.count(t.ticker, t.dir), 1)
		age := now.Sub(t.date)
		decay := decayFactor(n.opts.Decay, age, window)
		batch.Events = append(batch.Events, models.SignalEvent{
			ID:             eventID(models.SourceCongress, t.ticker, t.date, t.member, string(t.action), t.raw.Amount),
			Ticker:         t.ticker,
			Company:        strings.TrimSpace(t.raw.Company),
			Source:         models.SourceCongress,
			Action:         t.action,
			EventDate:      t.date,
			DisclosureDate: t.disclosed,
			Direction:      t.dir,
			SubScore:       n.SubScore(t.midpoint, decay, count),
			Magnitude: map[string]float64{
				"amount_midpoint": t.midpoint,
				"age_days":        days(age),
				"decay":           decay,
				"members":         float64(count),
				"disclosure_lag":  days(t.disclosed.Sub(t.date)),
			},
			Description: fmt.Sprintf("%s %s %s of %s", strings.TrimSpace(t.raw.Member), congressVerb(t.action), t.raw.Amount, t.ticker),
		})
	}

	return batch
}

// SubScore scores a trade from its amount midpoint, recency decay and the
// number of distinct members trading the ticker on the same side.
func (n *Congress) SubScore(midpoint, decay float64, members int) float64 {
	amountPts := logPoints(midpoint, 3, 7, 100)
	memberPts := min(15*float64(members-1), 30)
	return clampScore((0.5*amountPts+50)*decay + memberPts)
}

// Direction returns the direction of a raw trade.
func (n *Congress) Direction(rec models.CongressTrade) models.Direction {
	dir, _ := n.opts.Conventions.Direction(models.SourceCongress, congressAction(rec.TransactionType))
	return dir
}

func (n *Congress) validate(rec models.CongressTrade) (congressTrade, error) {
	if err := validate.Struct(rec); err != nil {
		return congressTrade{}, err
	}
	date, err := parseDate(rec.TransactionDate)
	if err != nil {
		return congressTrade{}, err
	}
	action := congressAction(rec.TransactionType)
	if action == "" {
		return congressTrade{}, fmt.Errorf("unknown transaction type %q", rec.TransactionType)
	}
	mid, err := ParseAmountMidpoint(rec.Amount)
	if err != nil {
		return congressTrade{}, err
	}
	return congressTrade{
		raw:       rec,
		ticker:    normalizeTicker(rec.Ticker),
		member:    normalizeName(rec.Member),
		action:    action,
		dir:       n.Direction(rec),
		date:      date,
		disclosed: parseOptionalDate(rec.DisclosureDate, date),
		midpoint:  mid,
	}, nil
}

func congressAction(txType string) models.Action {
	t := strings.ToLower(strings.TrimSpace(txType))
	switch {
	case strings.HasPrefix(t, "purchase"), t == "buy":
		return models.ActionBuy
	case strings.HasPrefix(t, "sale"), t == "sell":
		return models.ActionSell
	case strings.HasPrefix(t, "exchange"):
		return models.ActionExchange
	}
	return ""
}

func congressVerb(a models.Action) string {
	switch a {
	case models.ActionBuy:
		return "purchased"
	case models.ActionSell:
		return "sold"
	default:
		return "exchanged"
	}
}

// ParseAmountMidpoint returns the midpoint of a disclosed amount range such as
// "$1,001 - $15,000". A single amount is its own midpoint.
func ParseAmountMidpoint(amount string) (float64, error) {
	tokens := amountPattern.FindAllString(amount, -1)
	if len(tokens) == 0 || len(tokens) > 2 {
		return 0, fmt.Errorf("unparseable amount %q", amount)
	}

	values := make([]decimal.Decimal, 0, len(tokens))
	for _, tok := range tokens {
		v, err := decimal.NewFromString(strings.ReplaceAll(tok, ",", ""))
		if err != nil {
			return 0, fmt.Errorf("unparseable amount %q: %w", amount, err)
		}
		values = append(values, v)
	}

	mid := values[0]
	if len(values) == 2 {
		if values[1].LessThan(values[0]) {
			return 0, fmt.Errorf("inverted amount range %q", amount)
		}
		mid = values[0].Add(values[1]).Div(decimal.NewFromInt(2))
	}
	if !mid.IsPositive() {
		return 0, fmt.Errorf("non-positive amount %q", amount)
	}
	f, _ := mid.Float64()
	return f, nil
}
