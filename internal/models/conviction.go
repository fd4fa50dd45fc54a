package models

import "time"

// TickerConviction is the fused view of every in-window event for one ticker.
// It is rebuilt wholesale each aggregation cycle.
type TickerConviction struct {
	Ticker             string             `json:"ticker"`
	Company            string             `json:"company,omitempty"`
	Profile            string             `json:"profile"`
	PerSourceScore     map[Source]float64 `json:"per_source_score"`
	Sources            []Source           `json:"sources"`
	SourceCount        int                `json:"source_count"`
	AlignedSourceCount int                `json:"aligned_source_count"`
	Direction          Direction          `json:"direction"`
	BaseScore          float64            `json:"base_score"`
	MultiSourceBonus   float64            `json:"multi_source_bonus"`
	ConflictPenalty    float64            `json:"conflict_penalty"`
	FinalScore         float64            `json:"final_score"`
	SignalDate         time.Time          `json:"signal_date"`
	Details            []SignalEvent      `json:"details"`
}

// HasSource reports whether src contributed a non-zero score.
func (c TickerConviction) HasSource(src Source) bool {
	return c.PerSourceScore[src] > 0
}
