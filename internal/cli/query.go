package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	apperrors "conviction-engine/internal/errors"
	"conviction-engine/internal/models"
	"conviction-engine/internal/projector"
)

func addQueryCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRankCmd(app))
	rootCmd.AddCommand(newFeedCmd(app))
	rootCmd.AddCommand(newTickerCmd(app))
}

// loadProjector loads the last committed snapshot from the database.
func (a *App) loadProjector(ctx context.Context) (*projector.Projector, error) {
	db, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	snaps, err := a.restoreSnapshots(ctx, db)
	if err != nil {
		return nil, err
	}
	if _, err := snaps.Current(); err != nil {
		return nil, fmt.Errorf("no committed snapshot; run 'conviction run' first: %w", err)
	}
	return projector.New(snaps, a.Logger), nil
}

func newRankCmd(app *App) *cobra.Command {
	var q projector.RankQuery

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank tickers by conviction",
		Long: `Show tickers ordered by final conviction score.

Examples:
  conviction rank
  conviction rank --min-score 60 --source insider
  conviction rank --days 7 --limit 20 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			p, err := app.loadProjector(cmd.Context())
			if err != nil {
				return err
			}
			res, err := p.Rank(q)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(res)
			}
			printMeta(output, res.Meta)
			if len(res.Records) == 0 {
				output.Warning("No convictions match")
				return nil
			}
			printRecords(output, res.Records)
			return nil
		},
	}

	cmd.Flags().Float64Var(&q.MinScore, "min-score", 0, "minimum final score (0-100)")
	cmd.Flags().StringVar(&q.Source, "source", "all", "only tickers with a signal from this source")
	cmd.Flags().IntVar(&q.Days, "days", projector.DefaultDays, "signal date window in days")
	cmd.Flags().IntVar(&q.Limit, "limit", projector.DefaultLimit, "maximum number of tickers")

	return cmd
}

func newFeedCmd(app *App) *cobra.Command {
	var q projector.FeedQuery

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show recent smart-money events",
		Long: `Show the un-aggregated events behind the scores, grouped by day with
the newest first.

Examples:
  conviction feed
  conviction feed --ticker NVDA --days 90
  conviction feed --source congress --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			p, err := app.loadProjector(cmd.Context())
			if err != nil {
				return err
			}
			res, err := p.Feed(q)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(res)
			}
			printMeta(output, res.Meta)
			if len(res.Days) == 0 {
				output.Warning("No events match")
				return nil
			}
			for _, day := range res.Days {
				output.Bold(day.Date)
				for _, ev := range day.Events {
					output.Printf("  %s %-6s %s  %s  %s\n",
						output.SourceTag(ev.Source),
						ev.Ticker,
						output.Direction(ev.Sentiment),
						ev.Headline,
						output.Significance(ev.Significance),
					)
					if ev.Description != "" {
						output.Printf("      %s\n", output.DimText(ev.Description))
					}
				}
				output.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&q.Source, "source", "all", "only events from this source")
	cmd.Flags().StringVar(&q.Ticker, "ticker", "", "only events for this ticker")
	cmd.Flags().IntVar(&q.Days, "days", projector.DefaultDays, "event date window in days")
	cmd.Flags().IntVar(&q.Limit, "limit", projector.DefaultLimit, "maximum number of events")

	return cmd
}

func newTickerCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ticker <SYMBOL>",
		Short: "Show the conviction breakdown of one ticker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			p, err := app.loadProjector(cmd.Context())
			if err != nil {
				return err
			}
			res, err := p.Ticker(args[0])
			if errors.Is(err, apperrors.ErrTickerNotFound) {
				return fmt.Errorf("%s has no conviction in the current snapshot", strings.ToUpper(args[0]))
			}
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(res)
			}
			printTicker(output, res.Record)
			printMeta(output, res.Meta)
			return nil
		},
	}
}

func printTicker(output *Output, r models.ConvictionRecord) {
	title := r.Ticker
	if r.Company != "" {
		title += " " + r.Company
	}

	perSource := map[models.Source]float64{
		models.SourceCongress:      r.CongressScore,
		models.SourceARK:           r.ARKScore,
		models.SourceDarkPool:      r.DarkPoolScore,
		models.SourceInstitutional: r.InstitutionalScore,
		models.SourceInsider:       r.InsiderScore,
		models.SourceShortInterest: r.ShortInterestScore,
		models.SourceSuperinvestor: r.SuperinvestorScore,
	}

	lines := []string{
		fmt.Sprintf("Score:      %s  %s", output.Score(r.Score), output.Direction(r.Direction)),
		fmt.Sprintf("Base:       %s  bonus +%s  penalty -%s",
			FormatScore(r.BaseScore), FormatScore(r.MultiSourceBonus), FormatScore(r.ConflictPenalty)),
		fmt.Sprintf("Signal:     %s (%d sources)", r.SignalDate, r.SourceCount),
		"",
	}
	for _, src := range models.AllSources() {
		score := perSource[src]
		label := fmt.Sprintf("%-16s", src.Label())
		if score == 0 {
			lines = append(lines, output.DimText(label+"  -"))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s  %s", label, output.Score(score)))
	}
	output.Box(title, lines)

	if len(r.Details) > 0 {
		output.Println()
		table := NewTable(output, "DATE", "SOURCE", "DIRECTION", "SCORE", "DETAIL")
		for _, d := range r.Details {
			table.AddRow(d.Date, d.Source.Label(), output.Direction(d.Direction), FormatScore(d.Score), TruncateString(d.Description, 60))
		}
		table.Render()
	}
}

func printRecords(output *Output, records []models.ConvictionRecord) {
	table := NewTable(output, "#", "TICKER", "SCORE", "DIRECTION", "SOURCES", "SIGNAL")
	for i, r := range records {
		table.AddRow(
			fmt.Sprintf("%d", i+1),
			r.Ticker,
			output.Score(r.Score),
			output.Direction(r.Direction),
			FormatSources(r.Sources),
			r.SignalDate,
		)
	}
	table.Render()
}

func printMeta(output *Output, meta models.ResponseMeta) {
	for _, adj := range meta.Adjustments {
		output.Warning("Adjusted: %s", adj)
	}
	line := fmt.Sprintf("Snapshot v%d, updated %s, %d matched", meta.Version, FormatDateTime(meta.LastUpdated), meta.Filtered)
	if meta.Stale {
		output.Warning("%s (stale: the last cycle failed)", line)
		return
	}
	output.Dim("%s", line)
}

// sortRecords orders records by score descending, then ticker.
func sortRecords(records []models.ConvictionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].Ticker < records[j].Ticker
	})
}
