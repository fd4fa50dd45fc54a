// Package projector builds read-only ranking and feed views over the latest
// committed snapshot. Every response is freshly built; the snapshot itself is
// never modified.
package projector

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "conviction-engine/internal/errors"
	"conviction-engine/internal/models"
	"conviction-engine/internal/snapshot"
)

// Query limits.
const (
	MaxDays      = 365
	DefaultDays  = 30
	MaxLimit     = 500
	DefaultLimit = 50
)

// RankQuery filters the ranked conviction list.
type RankQuery struct {
	MinScore float64
	Source   string // source identifier or "all"
	Days     int    // signal_date window; 0 means DefaultDays
	Limit    int    // 0 means DefaultLimit
}

// FeedQuery filters the event feed.
type FeedQuery struct {
	Source string
	Ticker string
	Days   int
	Limit  int
}

// RankResult is a ranked page of convictions.
type RankResult struct {
	Meta    models.ResponseMeta       `json:"meta"`
	Records []models.ConvictionRecord `json:"records"`
}

// TickerResult is the conviction of one ticker.
type TickerResult struct {
	Meta   models.ResponseMeta     `json:"meta"`
	Record models.ConvictionRecord `json:"record"`
}

// FeedResult is the event feed grouped by day, newest first.
type FeedResult struct {
	Meta models.ResponseMeta `json:"meta"`
	Days []models.FeedDay    `json:"days"`
}

// SnapshotReader provides the latest committed snapshot.
type SnapshotReader interface {
	Current() (*snapshot.Snapshot, error)
}

// Projector serves ranking and feed queries.
type Projector struct {
	snapshots SnapshotReader
	logger    zerolog.Logger
}

// New creates a projector over the given snapshots.
func New(snapshots SnapshotReader, logger zerolog.Logger) *Projector {
	return &Projector{snapshots: snapshots, logger: logger}
}

// Rank returns convictions at or above MinScore within the day window,
// ordered by final score descending then ticker. Out-of-range parameters are
// clamped and reported in Meta.Adjustments.
func (p *Projector) Rank(q RankQuery) (RankResult, error) {
	snap, err := p.snapshots.Current()
	if err != nil {
		return RankResult{}, err
	}

	var adj adjustments
	minScore := adj.clampFloat("min_score", q.MinScore, 0, 100)
	days := adj.days(q.Days)
	limit := adj.limit(q.Limit)
	src := adj.source(q.Source)
	p.logAdjustments("rank", adj)

	cutoff := windowStart(snap.AsOf, days)
	matched := make([]models.TickerConviction, 0, len(snap.Convictions))
	for _, c := range snap.Convictions {
		if c.FinalScore < minScore {
			continue
		}
		if src != "" && !c.HasSource(src) {
			continue
		}
		if c.SignalDate.Before(cutoff) {
			continue
		}
		matched = append(matched, c)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].FinalScore != matched[j].FinalScore {
			return matched[i].FinalScore > matched[j].FinalScore
		}
		return matched[i].Ticker < matched[j].Ticker
	})

	res := RankResult{
		Meta:    meta(snap, len(matched), adj),
		Records: make([]models.ConvictionRecord, 0, min(len(matched), limit)),
	}
	for _, c := range matched[:min(len(matched), limit)] {
		res.Records = append(res.Records, Record(c))
	}
	return res, nil
}

// Ticker returns the conviction of a single ticker.
func (p *Projector) Ticker(symbol string) (TickerResult, error) {
	snap, err := p.snapshots.Current()
	if err != nil {
		return TickerResult{}, err
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	c, ok := snap.Conviction(symbol)
	if !ok {
		return TickerResult{}, fmt.Errorf("%w: %s", apperrors.ErrTickerNotFound, symbol)
	}
	return TickerResult{Meta: meta(snap, 1, nil), Record: Record(c)}, nil
}

// Feed returns individual events within the day window grouped by event
// date, newest first. Within a day events are ordered by significance, then
// score, then ticker.
func (p *Projector) Feed(q FeedQuery) (FeedResult, error) {
	snap, err := p.snapshots.Current()
	if err != nil {
		return FeedResult{}, err
	}

	var adj adjustments
	days := adj.days(q.Days)
	limit := adj.limit(q.Limit)
	src := adj.source(q.Source)
	ticker := strings.ToUpper(strings.TrimSpace(q.Ticker))
	p.logAdjustments("feed", adj)

	cutoff := windowStart(snap.AsOf, days)
	events := make([]models.SignalEvent, 0, len(snap.Events))
	for _, ev := range snap.Events {
		if src != "" && ev.Source != src {
			continue
		}
		if ticker != "" && ev.Ticker != ticker {
			continue
		}
		if ev.EventDate.Before(cutoff) || ev.EventDate.After(snap.AsOf) {
			continue
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool { return feedLess(events[i], events[j]) })

	res := FeedResult{Meta: meta(snap, len(events), adj), Days: []models.FeedDay{}}
	for _, ev := range events[:min(len(events), limit)] {
		date := ev.EventDate.Format(models.DateLayout)
		if n := len(res.Days); n == 0 || res.Days[n-1].Date != date {
			res.Days = append(res.Days, models.FeedDay{Date: date})
		}
		day := &res.Days[len(res.Days)-1]
		day.Events = append(day.Events, FeedItem(ev))
	}
	return res, nil
}

func feedLess(a, b models.SignalEvent) bool {
	ad, bd := a.EventDate.Format(models.DateLayout), b.EventDate.Format(models.DateLayout)
	if ad != bd {
		return ad > bd
	}
	if a.Significance != b.Significance {
		return a.Significance.Rank() < b.Significance.Rank()
	}
	if a.SubScore != b.SubScore {
		return a.SubScore > b.SubScore
	}
	if a.Ticker != b.Ticker {
		return a.Ticker < b.Ticker
	}
	return a.Less(b)
}

// Record converts a conviction into its output shape.
func Record(c models.TickerConviction) models.ConvictionRecord {
	r := models.ConvictionRecord{
		Ticker:             c.Ticker,
		Company:            c.Company,
		Score:              round2(c.FinalScore),
		Direction:          c.Direction,
		SourceCount:        c.SourceCount,
		Sources:            append([]models.Source{}, c.Sources...),
		CongressScore:      round2(c.PerSourceScore[models.SourceCongress]),
		ARKScore:           round2(c.PerSourceScore[models.SourceARK]),
		DarkPoolScore:      round2(c.PerSourceScore[models.SourceDarkPool]),
		InstitutionalScore: round2(c.PerSourceScore[models.SourceInstitutional]),
		InsiderScore:       round2(c.PerSourceScore[models.SourceInsider]),
		ShortInterestScore: round2(c.PerSourceScore[models.SourceShortInterest]),
		SuperinvestorScore: round2(c.PerSourceScore[models.SourceSuperinvestor]),
		BaseScore:          round2(c.BaseScore),
		MultiSourceBonus:   round2(c.MultiSourceBonus),
		ConflictPenalty:    round2(c.ConflictPenalty),
		SignalDate:         c.SignalDate.Format(models.DateLayout),
		Details:            make([]models.DetailRecord, 0, len(c.Details)),
	}
	for _, ev := range c.Details {
		r.Details = append(r.Details, models.DetailRecord{
			Source:      ev.Source,
			Description: ev.Description,
			Date:        ev.EventDate.Format(models.DateLayout),
			Direction:   ev.Direction,
			Score:       round2(ev.SubScore),
		})
	}
	return r
}

// FeedItem converts an event into its feed shape.
func FeedItem(ev models.SignalEvent) models.FeedEvent {
	return models.FeedEvent{
		Ticker:       ev.Ticker,
		Company:      ev.Company,
		Source:       ev.Source,
		Date:         ev.EventDate.Format(models.DateLayout),
		Headline:     Headline(ev),
		Description:  ev.Description,
		Sentiment:    ev.Direction,
		Significance: ev.Significance,
		Score:        round2(ev.SubScore),
	}
}

// Headline is the one-line title of an event, e.g. "Insider buy: XYZ".
func Headline(ev models.SignalEvent) string {
	action := strings.ToLower(strings.ReplaceAll(string(ev.Action), "_", " "))
	switch ev.Action {
	case models.ActionSell:
		action = "sale"
	case models.ActionShortIncrease:
		action = "short interest up"
	case models.ActionShortDecrease:
		action = "short interest down"
	case models.ActionShortFlat:
		action = "short interest flat"
	}
	return fmt.Sprintf("%s %s: %s", ev.Source.Label(), action, ev.Ticker)
}

func meta(snap *snapshot.Snapshot, filtered int, adj adjustments) models.ResponseMeta {
	return models.ResponseMeta{
		Filtered:    filtered,
		LastUpdated: snap.CommittedAt,
		Version:     snap.Version,
		Stale:       snap.Stale,
		Adjustments: adj,
	}
}

func (p *Projector) logAdjustments(view string, adj adjustments) {
	for _, a := range adj {
		p.logger.Debug().Str("view", view).Str("adjustment", a).Msg("Clamped query parameter")
	}
}

// windowStart is the first calendar day inside a window of days ending at asOf.
func windowStart(asOf time.Time, days int) time.Time {
	y, m, d := asOf.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// adjustments collects clamped query parameters.
type adjustments []string

func (a *adjustments) add(field string, value, clamped interface{}) {
	*a = append(*a, apperrors.NewQueryValidationError(field, value, clamped).Error())
}

func (a *adjustments) clampFloat(field string, v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v):
		a.add(field, v, lo)
		return lo
	case v < lo:
		a.add(field, v, lo)
		return lo
	case v > hi:
		a.add(field, v, hi)
		return hi
	}
	return v
}

func (a *adjustments) clampInt(field string, v, lo, hi int) int {
	switch {
	case v < lo:
		a.add(field, v, lo)
		return lo
	case v > hi:
		a.add(field, v, hi)
		return hi
	}
	return v
}

func (a *adjustments) days(v int) int {
	if v == 0 {
		return DefaultDays
	}
	return a.clampInt("days", v, 1, MaxDays)
}

func (a *adjustments) limit(v int) int {
	if v == 0 {
		return DefaultLimit
	}
	return a.clampInt("limit", v, 1, MaxLimit)
}

// source resolves a source filter; "" means all sources.
func (a *adjustments) source(v string) models.Source {
	v = strings.TrimSpace(v)
	if v == "" || strings.EqualFold(v, "all") {
		return ""
	}
	src, err := models.ParseSource(v)
	if err != nil {
		a.add("source", v, "all")
		return ""
	}
	return src
}
