package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conviction-engine/internal/analysis/scoring"
	apperrors "conviction-engine/internal/errors"
	"conviction-engine/internal/models"
)

var now = time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

func event(id, ticker string, src models.Source, dir models.Direction, score float64, ageDays int) models.SignalEvent {
	return models.SignalEvent{
		ID:        id,
		Ticker:    ticker,
		Source:    src,
		Direction: dir,
		SubScore:  score,
		EventDate: now.AddDate(0, 0, -ageDays),
	}
}

func aggregate(t *testing.T, events []models.SignalEvent) []models.TickerConviction {
	t.Helper()
	out, err := NewAggregator(DefaultConfig()).Aggregate(context.Background(), events, now, scoring.GeneralProfile{})
	require.NoError(t, err)
	return out
}

// Congress purchase and two ARK funds opening a position on the same ticker.
func TestAggregateAlignedSources(t *testing.T) {
	events := []models.SignalEvent{
		event("c1", "XYZ", models.SourceCongress, models.Bullish, 66.4666, 3),
		event("a1", "XYZ", models.SourceARK, models.Bullish, 75, 2),
		event("a2", "XYZ", models.SourceARK, models.Bullish, 75, 1),
	}
	events[0].Company = "XYZ Corp"

	out := aggregate(t, events)
	require.Len(t, out, 1)
	c := out[0]

	assert.Equal(t, "XYZ", c.Ticker)
	assert.Equal(t, "XYZ Corp", c.Company)
	assert.Equal(t, models.Bullish, c.Direction)
	assert.Equal(t, 2, c.SourceCount)
	assert.Equal(t, 2, c.AlignedSourceCount)
	assert.Equal(t, []models.Source{models.SourceCongress, models.SourceARK}, c.Sources)
	assert.InDelta(t, 70.7333, c.BaseScore, 1e-3)
	assert.Equal(t, 20.0, c.MultiSourceBonus)
	assert.Zero(t, c.ConflictPenalty)
	assert.InDelta(t, 90.7333, c.FinalScore, 1e-3)
	assert.Equal(t, now.AddDate(0, 0, -1), c.SignalDate)

	require.Len(t, c.Details, 3)
	assert.Equal(t, []string{"a2", "a1", "c1"}, []string{c.Details[0].ID, c.Details[1].ID, c.Details[2].ID})
}

// A congressional buy against an insider sale of similar weight.
func TestAggregateConflictingSources(t *testing.T) {
	out := aggregate(t, []models.SignalEvent{
		event("c1", "XYZ", models.SourceCongress, models.Bullish, 60, 5),
		event("i1", "XYZ", models.SourceInsider, models.Bearish, 55, 5),
	})
	require.Len(t, out, 1)
	c := out[0]

	assert.Equal(t, models.Neutral, c.Direction)
	assert.Zero(t, c.AlignedSourceCount)
	assert.Zero(t, c.MultiSourceBonus)
	assert.InDelta(t, 57.5, c.BaseScore, 1e-9)
	assert.InDelta(t, 13.75, c.ConflictPenalty, 1e-9)
	assert.InDelta(t, 43.75, c.FinalScore, 1e-9)
	assert.Less(t, c.FinalScore, 60.0)
}

func TestAggregateSingleSourceHasNoBonus(t *testing.T) {
	out := aggregate(t, []models.SignalEvent{
		event("i1", "ABC", models.SourceInsider, models.Bullish, 80, 1),
		event("i2", "ABC", models.SourceInsider, models.Bullish, 70, 2),
	})
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].SourceCount)
	assert.Equal(t, 1, out[0].AlignedSourceCount)
	assert.Zero(t, out[0].MultiSourceBonus)
	assert.Equal(t, 80.0, out[0].FinalScore)
}

func TestAggregateNeutralSourcesAreDampened(t *testing.T) {
	// bull 40 vs dampened neutral 0.5*90: still bullish since bear weight is zero
	out := aggregate(t, []models.SignalEvent{
		event("c1", "XYZ", models.SourceCongress, models.Bullish, 40, 1),
		event("d1", "XYZ", models.SourceDarkPool, models.Neutral, 90, 1),
	})
	require.Len(t, out, 1)
	assert.Equal(t, models.Bullish, out[0].Direction)
	assert.Equal(t, 1, out[0].AlignedSourceCount)

	out = aggregate(t, []models.SignalEvent{
		event("d1", "XYZ", models.SourceDarkPool, models.Neutral, 90, 1),
	})
	require.Len(t, out, 1)
	assert.Equal(t, models.Neutral, out[0].Direction)
	assert.Zero(t, out[0].AlignedSourceCount)
}

func TestAggregateBonusIsCapped(t *testing.T) {
	var events []models.SignalEvent
	for i, src := range models.AllSources() {
		events = append(events, event(fmt.Sprintf("e%d", i), "XYZ", src, models.Bullish, 50, 1))
	}
	out := aggregate(t, events)
	require.Len(t, out, 1)
	assert.Equal(t, 7, out[0].AlignedSourceCount)
	assert.Equal(t, 40.0, out[0].MultiSourceBonus)
	assert.Equal(t, 90.0, out[0].FinalScore)
}

func TestAggregateWindows(t *testing.T) {
	out := aggregate(t, []models.SignalEvent{
		event("old", "XYZ", models.SourceCongress, models.Bullish, 90, 91),
		event("ark", "XYZ", models.SourceARK, models.Bullish, 30, 31),
		event("future", "XYZ", models.SourceInsider, models.Bullish, 90, -2),
		event("edge", "XYZ", models.SourceInsider, models.Bullish, 45, 90),
		event("13f", "ABC", models.SourceInstitutional, models.Bullish, 50, 170),
	})
	require.Len(t, out, 2)
	assert.Equal(t, "ABC", out[0].Ticker)
	assert.Equal(t, "XYZ", out[1].Ticker)
	assert.Equal(t, []models.Source{models.SourceInsider}, out[1].Sources)
	assert.Equal(t, 45.0, out[1].FinalScore)
}

func TestAggregateSkipsZeroScoreTickers(t *testing.T) {
	out := aggregate(t, []models.SignalEvent{
		event("z", "ZZZ", models.SourceShortInterest, models.Neutral, 0, 1),
	})
	assert.Empty(t, out)
}

func TestAggregateCrisisProfile(t *testing.T) {
	events := []models.SignalEvent{
		event("c1", "XYZ", models.SourceCongress, models.Bullish, 80, 1),
		event("s1", "XYZ", models.SourceShortInterest, models.Bullish, 90, 1),
	}
	out, err := NewAggregator(DefaultConfig()).Aggregate(context.Background(), events, now, scoring.NewCrisisProfile(nil))
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, scoring.ProfileCrisis, out[0].Profile)
	// 25*80/100; short interest carries no crisis weight
	assert.InDelta(t, 20.0, out[0].BaseScore, 1e-9)
	assert.Equal(t, 20.0, out[0].MultiSourceBonus)
	assert.InDelta(t, 40.0, out[0].FinalScore, 1e-9)
}

func TestAggregateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAggregator(DefaultConfig()).Aggregate(ctx, []models.SignalEvent{
		event("c1", "XYZ", models.SourceCongress, models.Bullish, 80, 1),
	}, now, nil)
	assert.ErrorIs(t, err, apperrors.ErrAggregationTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAggregateDuplicateEvents(t *testing.T) {
	ev := event("dup", "XYZ", models.SourceInsider, models.Bullish, 60, 1)
	out := aggregate(t, []models.SignalEvent{ev, ev})
	require.Len(t, out, 1)
	assert.Len(t, out[0].Details, 1)
}

func TestAggregateDuplicateTieIgnoresInputOrder(t *testing.T) {
	a := event("dup", "XYZ", models.SourceInsider, models.Bullish, 60, 1)
	a.Description = "first filing"
	b := a
	b.Description = "amended filing"

	forward := aggregate(t, []models.SignalEvent{a, b})
	reverse := aggregate(t, []models.SignalEvent{b, a})
	require.Len(t, forward, 1)
	require.Len(t, reverse, 1)
	require.Len(t, forward[0].Details, 1)
	assert.Equal(t, "amended filing", forward[0].Details[0].Description)
	assert.Equal(t, forward, reverse)
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	events := randomEvents(rand.New(rand.NewSource(7)), 200)
	want, err := json.Marshal(aggregate(t, events))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		shuffled := append([]models.SignalEvent(nil), events...)
		rand.New(rand.NewSource(int64(i))).Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got, err := json.Marshal(aggregate(t, shuffled))
		require.NoError(t, err)
		assert.JSONEq(t, string(want), string(got))
		assert.Equal(t, want, got, "output must be byte-identical")
	}
}

func randomEvents(r *rand.Rand, n int) []models.SignalEvent {
	tickers := []string{"AAA", "BBB", "CCC", "DDD"}
	dirs := []models.Direction{models.Bullish, models.Bearish, models.Neutral}
	sources := models.AllSources()

	events := make([]models.SignalEvent, n)
	for i := range events {
		events[i] = event(
			fmt.Sprintf("ev-%03d", i),
			tickers[r.Intn(len(tickers))],
			sources[r.Intn(len(sources))],
			dirs[r.Intn(len(dirs))],
			math.Round(r.Float64()*10000)/100,
			r.Intn(30),
		)
	}
	return events
}
