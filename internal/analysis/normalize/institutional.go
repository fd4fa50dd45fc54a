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

// Institutional normalizes quarterly 13F position changes.
type Institutional struct {
	collector analysis.Collector[models.InstitutionalHolding]
	opts      Options
}

// NewInstitutional creates a 13F normalizer.
func NewInstitutional(c analysis.Collector[models.InstitutionalHolding], opts Options) *Institutional {
	return &Institutional{collector: c, opts: opts}
}

func (n *Institutional) Source() models.Source { return models.SourceInstitutional }

func (n *Institutional) Normalize(ctx context.Context, now time.Time) (analysis.Batch, error) {
	return run(ctx, n.collector, n.Parse, now)
}

// Parse converts 13F holdings into events.
func (n *Institutional) Parse(records []models.InstitutionalHolding, now time.Time) analysis.Batch {
	batch := analysis.Batch{Source: models.SourceInstitutional, Total: len(records)}

	for _, rec := range records {
		quarter, err := n.validate(rec)
		if err != nil {
			batch.Dropped++
			continue
		}

		ticker := normalizeTicker(rec.Ticker)
		action := institutionalAction(rec)
		value, _ := rec.Value.Float64()
		change := ChangePercent(rec.Shares, rec.PriorShares)
		prestige := n.opts.Tables.Prestige(rec.Institution)

		batch.Events = append(batch.Events, models.SignalEvent{
			ID:             eventID(models.SourceInstitutional, ticker, quarter, normalizeName(rec.Institution)),
			Ticker:         ticker,
			Company:        strings.TrimSpace(rec.Company),
			Source:         models.SourceInstitutional,
			Action:         action,
			EventDate:      quarter,
			DisclosureDate: parseOptionalDate(rec.FilingDate, quarter),
			Direction:      n.Direction(rec),
			SubScore:       n.SubScore(value, change, prestige),
			Magnitude: map[string]float64{
				"value":          value,
				"shares":         rec.Shares,
				"prior_shares":   rec.PriorShares,
				"change_percent": change,
				"prestige":       prestige,
			},
			Description: fmt.Sprintf("%s %s %s (%+.1f%%, $%s)",
				strings.TrimSpace(rec.Institution), positionVerb(action), ticker, change, rec.Value.StringFixed(0)),
		})
	}

	return batch
}

// SubScore scores a 13F position from its value, share change and the
// filer's prestige.
func (n *Institutional) SubScore(value, changePct, prestige float64) float64 {
	valuePts := logPoints(value, 6, 10, 40)
	changePts := min(math.Abs(changePct), 100) * 0.4
	return clampScore(valuePts + changePts + 20*prestige)
}

// Direction returns the direction of a raw holding.
func (n *Institutional) Direction(rec models.InstitutionalHolding) models.Direction {
	dir, _ := n.opts.Conventions.Direction(models.SourceInstitutional, institutionalAction(rec))
	return dir
}

func (n *Institutional) validate(rec models.InstitutionalHolding) (time.Time, error) {
	if err := validate.Struct(rec); err != nil {
		return time.Time{}, err
	}
	if rec.Value.IsNegative() {
		return time.Time{}, fmt.Errorf("negative value %s", rec.Value)
	}
	if rec.Shares == 0 && rec.PriorShares == 0 {
		return time.Time{}, fmt.Errorf("empty position")
	}
	return parseDate(rec.QuarterEnd)
}

func institutionalAction(rec models.InstitutionalHolding) models.Action {
	switch {
	case rec.PriorShares == 0:
		return models.ActionNewPosition
	case rec.Shares == 0:
		return models.ActionSoldOut
	case rec.Shares > rec.PriorShares:
		return models.ActionIncreased
	case rec.Shares < rec.PriorShares:
		return models.ActionDecreased
	default:
		return models.ActionHold
	}
}

// ChangePercent returns the share change relative to prior. A new position
// counts as a 100% change.
func ChangePercent(shares, prior float64) float64 {
	if prior == 0 {
		if shares > 0 {
			return 100
		}
		return 0
	}
	return (shares - prior) / prior * 100
}

func positionVerb(a models.Action) string {
	switch a {
	case models.ActionNewPosition:
		return "opened a position in"
	case models.ActionIncreased:
		return "added to"
	case models.ActionDecreased:
		return "trimmed"
	case models.ActionSoldOut:
		return "exited"
	default:
		return "held"
	}
}
