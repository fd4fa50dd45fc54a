// Package models provides domain models for the conviction engine.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies one of the independent smart-money data origins.
type Source string

const (
	SourceCongress      Source = "congress"
	SourceARK           Source = "ark"
	SourceDarkPool      Source = "dark_pool"
	SourceInstitutional Source = "institutional" // 13F
	SourceInsider       Source = "insider"       // Form 4
	SourceShortInterest Source = "short_interest"
	SourceSuperinvestor Source = "superinvestor"
)

// AllSources returns every source in canonical order.
// Aggregation iterates sources in this order so float sums are reproducible.
func AllSources() []Source {
	return []Source{
		SourceCongress,
		SourceARK,
		SourceDarkPool,
		SourceInstitutional,
		SourceInsider,
		SourceShortInterest,
		SourceSuperinvestor,
	}
}

// Index returns the canonical position of the source, or -1 when unknown.
func (s Source) Index() int {
	for i, src := range AllSources() {
		if src == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s.Index() >= 0
}

// Label returns a display label for the source.
func (s Source) Label() string {
	switch s {
	case SourceCongress:
		return "Congress"
	case SourceARK:
		return "ARK Invest"
	case SourceDarkPool:
		return "Dark Pool"
	case SourceInstitutional:
		return "13F"
	case SourceInsider:
		return "Insider"
	case SourceShortInterest:
		return "Short Interest"
	case SourceSuperinvestor:
		return "Superinvestor"
	default:
		return string(s)
	}
}

// ParseSource parses a source identifier. Common aliases are accepted.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "congress":
		return SourceCongress, nil
	case "ark", "arkinvest", "ark_invest":
		return SourceARK, nil
	case "dark_pool", "darkpool", "dark-pool":
		return SourceDarkPool, nil
	case "institutional", "13f", "institutional13f":
		return SourceInstitutional, nil
	case "insider", "form4":
		return SourceInsider, nil
	case "short_interest", "shortinterest", "short-interest":
		return SourceShortInterest, nil
	case "superinvestor", "superinvestors":
		return SourceSuperinvestor, nil
	}
	return "", fmt.Errorf("unknown source: %q", s)
}

// Direction is the bullish/bearish/neutral classification of a signal or aggregate.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// ParseDirection parses a direction name.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Bullish:
		return Bullish, nil
	case Bearish:
		return Bearish, nil
	case Neutral:
		return Neutral, nil
	}
	return "", fmt.Errorf("unknown direction: %q", s)
}

// Significance is the feed-highlighting tier of a single event.
type Significance string

const (
	SignificanceHigh   Significance = "high"
	SignificanceMedium Significance = "medium"
	SignificanceLow    Significance = "low"
)

// Rank orders significance tiers, high first.
func (s Significance) Rank() int {
	switch s {
	case SignificanceHigh:
		return 0
	case SignificanceMedium:
		return 1
	default:
		return 2
	}
}

// Action is the source-specific verb of a raw record.
type Action string

const (
	ActionBuy           Action = "BUY"
	ActionSell          Action = "SELL"
	ActionExchange      Action = "EXCHANGE"
	ActionNewPosition   Action = "NEW_POSITION"
	ActionIncreased     Action = "INCREASED"
	ActionDecreased     Action = "DECREASED"
	ActionSoldOut       Action = "SOLD_OUT"
	ActionHold          Action = "HOLD"
	ActionAccumulation  Action = "ACCUMULATION"
	ActionDistribution  Action = "DISTRIBUTION"
	ActionAnomaly       Action = "ANOMALY"
	ActionNormal        Action = "NORMAL"
	ActionShortIncrease Action = "SHORT_INCREASE"
	ActionShortDecrease Action = "SHORT_DECREASE"
	ActionShortFlat     Action = "SHORT_FLAT"
	ActionSqueezeSetup  Action = "SQUEEZE_SETUP"
)

// SignalEvent is one validated provider record expressed in the common shape.
// Events are values and are never modified after the scorer has run.
type SignalEvent struct {
	ID             string             `json:"id"`
	Ticker         string             `json:"ticker"`
	Company        string             `json:"company,omitempty"`
	Source         Source             `json:"source"`
	Action         Action             `json:"action"`
	EventDate      time.Time          `json:"event_date"`
	DisclosureDate time.Time          `json:"disclosure_date"`
	Direction      Direction          `json:"direction"`
	SubScore       float64            `json:"sub_score"`
	Magnitude      map[string]float64 `json:"magnitude,omitempty"`
	Description    string             `json:"description"`
	Significance   Significance       `json:"significance"`
}

// Less orders events by date descending, then canonical source order, then ID.
func (e SignalEvent) Less(o SignalEvent) bool {
	if !e.EventDate.Equal(o.EventDate) {
		return e.EventDate.After(o.EventDate)
	}
	if e.Source != o.Source {
		return e.Source.Index() < o.Source.Index()
	}
	return e.ID < o.ID
}
