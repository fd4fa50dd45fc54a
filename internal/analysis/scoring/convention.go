package scoring

import "conviction-engine/internal/models"

// Conventions maps each source's actions to a direction.
type Conventions struct {
	table map[models.Source]map[models.Action]models.Direction
}

// DefaultConventions returns the sign conventions with squeeze setups treated
// as neutral.
func DefaultConventions() Conventions {
	return NewConventions(models.Neutral)
}

// NewConventions returns the sign conventions with the given direction for
// short-interest squeeze setups.
func NewConventions(squeeze models.Direction) Conventions {
	position := map[models.Action]models.Direction{
		models.ActionNewPosition: models.Bullish,
		models.ActionIncreased:   models.Bullish,
		models.ActionHold:        models.Neutral,
		models.ActionDecreased:   models.Bearish,
		models.ActionSoldOut:     models.Bearish,
	}

	return Conventions{table: map[models.Source]map[models.Action]models.Direction{
		models.SourceCongress: {
			models.ActionBuy:      models.Bullish,
			models.ActionSell:     models.Bearish,
			models.ActionExchange: models.Neutral,
		},
		models.SourceARK:           position,
		models.SourceInstitutional: position,
		models.SourceSuperinvestor: position,
		models.SourceDarkPool: {
			models.ActionAccumulation: models.Bullish,
			models.ActionDistribution: models.Bearish,
			models.ActionAnomaly:      models.Neutral,
			models.ActionNormal:       models.Neutral,
		},
		models.SourceInsider: {
			models.ActionBuy:  models.Bullish,
			models.ActionSell: models.Bearish,
		},
		models.SourceShortInterest: {
			models.ActionShortIncrease: models.Bearish,
			models.ActionShortDecrease: models.Bullish,
			models.ActionShortFlat:     models.Neutral,
			models.ActionSqueezeSetup:  squeeze,
		},
	}}
}

// Direction returns the direction of an action for a source. ok is false
// when the action is not part of the source's vocabulary.
func (c Conventions) Direction(src models.Source, action models.Action) (dir models.Direction, ok bool) {
	actions, found := c.table[src]
	if !found {
		return models.Neutral, false
	}
	dir, ok = actions[action]
	if !ok {
		return models.Neutral, false
	}
	return dir, true
}
