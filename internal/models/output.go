package models

import "time"

// ConvictionRecord is the conviction shape exposed to the presentation layer.
type ConvictionRecord struct {
	Ticker             string         `json:"ticker"`
	Company            string         `json:"company"`
	Score              float64        `json:"score"`
	Direction          Direction      `json:"direction"`
	SourceCount        int            `json:"source_count"`
	Sources            []Source       `json:"sources"`
	CongressScore      float64        `json:"congress_score"`
	ARKScore           float64        `json:"ark_score"`
	DarkPoolScore      float64        `json:"dark_pool_score"`
	InstitutionalScore float64        `json:"institutional_score"`
	InsiderScore       float64        `json:"insider_score"`
	ShortInterestScore float64        `json:"short_interest_score"`
	SuperinvestorScore float64        `json:"superinvestor_score"`
	BaseScore          float64        `json:"base_score"`
	MultiSourceBonus   float64        `json:"multi_source_bonus"`
	ConflictPenalty    float64        `json:"conflict_penalty"`
	SignalDate         string         `json:"signal_date"`
	Details            []DetailRecord `json:"details"`
}

// DetailRecord is one drill-down line of a conviction record.
type DetailRecord struct {
	Source      Source    `json:"source"`
	Description string    `json:"description"`
	Date        string    `json:"date"`
	Direction   Direction `json:"direction"`
	Score       float64   `json:"score"`
}

// FeedEvent is one un-aggregated event exposed to the feed.
type FeedEvent struct {
	Ticker       string       `json:"ticker"`
	Company      string       `json:"company"`
	Source       Source       `json:"source"`
	Date         string       `json:"date"`
	Headline     string       `json:"headline"`
	Description  string       `json:"description"`
	Sentiment    Direction    `json:"sentiment"`
	Significance Significance `json:"significance"`
	Score        float64      `json:"score"`
}

// FeedDay groups feed events sharing an event date.
type FeedDay struct {
	Date   string      `json:"date"`
	Events []FeedEvent `json:"events"`
}

// ResponseMeta accompanies every projector response.
type ResponseMeta struct {
	Filtered    int       `json:"filtered"`
	LastUpdated time.Time `json:"last_updated"`
	Version     uint64    `json:"version"`
	Stale       bool      `json:"stale"`
	Adjustments []string  `json:"adjustments,omitempty"`
}

// DateLayout is the calendar-date layout used in output records.
const DateLayout = "2006-01-02"
