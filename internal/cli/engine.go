package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"conviction-engine/internal/models"
	"conviction-engine/internal/pipeline"
	"conviction-engine/internal/projector"
	"conviction-engine/internal/resilience"
	"conviction-engine/internal/server"
	"conviction-engine/internal/snapshot"
	"conviction-engine/internal/store"
)

func addEngineCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newServeCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newRunsCmd(app))
}

func newRunCmd(app *App) *cobra.Command {
	var (
		asOf      string
		inputDir  string
		profile   string
		noPersist bool
		top       int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one aggregation cycle",
		Long: `Read every source file from the input directory, score and fuse the
events, and commit the result as a new snapshot.

Examples:
  conviction run
  conviction run --as-of 2026-10-15 --profile crisis
  conviction run --input ./drops --no-persist --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			if inputDir != "" {
				app.Config.Input.Dir = inputDir
			}
			if profile != "" {
				app.Config.Engine.Profile = profile
				if err := app.Config.Validate(); err != nil {
					return err
				}
			}

			now := time.Now().UTC()
			if asOf != "" {
				t, err := time.Parse(models.DateLayout, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of %q: %w", asOf, err)
				}
				now = t.Add(24*time.Hour - time.Nanosecond)
			}

			snaps := snapshot.NewStore()
			var db *store.SQLiteStore
			if !noPersist {
				var err error
				if db, err = app.openStore(); err != nil {
					return err
				}
				defer db.Close()

				if snaps, err = app.restoreSnapshots(ctx, db); err != nil {
					return err
				}
			}

			p, err := app.newPipeline(snaps)
			if err != nil {
				return err
			}
			if db != nil {
				p.WithPersistence(db)
			}

			snap, err := p.RunCycle(ctx, now)
			if err != nil {
				output.Error("Cycle failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(snap)
			}
			printCycle(output, snap, top)
			return nil
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "aggregate as of the end of this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&inputDir, "input", "", "input directory (overrides config)")
	cmd.Flags().StringVar(&profile, "profile", "", "weight profile: general or crisis")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "do not write the snapshot to the database")
	cmd.Flags().IntVar(&top, "top", 10, "number of convictions to print")

	return cmd
}

func printCycle(output *Output, snap *snapshot.Snapshot, top int) {
	output.Bold("Snapshot v%d (%s profile) as of %s", snap.Version, snap.Profile, FormatDate(snap.AsOf))
	output.Dim("Cycle %s, %d events, %s", snap.CycleID, snap.Meta.EventCount, FormatDuration(snap.Meta.Duration))
	output.Println()

	table := NewTable(output, "SOURCE", "STATUS", "DROPPED")
	status := make(map[models.Source]string)
	for _, src := range snap.Meta.SourcesOK {
		status[src] = output.ColoredString(ColorGreen, "ok")
	}
	for _, src := range snap.Meta.SourcesUnavailable {
		status[src] = output.ColoredString(ColorRed, "unavailable")
	}
	for _, src := range snap.Meta.SourcesReused {
		status[src] = output.ColoredString(ColorYellow, "reused")
	}
	for _, src := range models.AllSources() {
		if s, ok := status[src]; ok {
			table.AddRow(src.Label(), s, fmt.Sprintf("%d", snap.Meta.Dropped[src]))
		}
	}
	table.Render()
	output.Println()

	records := make([]models.ConvictionRecord, 0, len(snap.Convictions))
	for _, c := range snap.Convictions {
		records = append(records, projector.Record(c))
	}
	sortRecords(records)
	printRecords(output, records[:max(0, min(top, len(records)))])
}

func newServeCmd(app *App) *cobra.Command {
	var (
		addr     string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Aggregate on a schedule and serve the read API",
		Long: `Restore the last committed snapshot, run a cycle immediately and then
once per interval, and serve rankings, the feed and health over HTTP until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = app.Config.Server.Addr
			}
			if interval <= 0 {
				interval = app.Config.Engine.Interval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, err := app.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			snaps, err := app.restoreSnapshots(ctx, db)
			if err != nil {
				return err
			}
			p, err := app.newPipeline(snaps)
			if err != nil {
				return err
			}
			p.WithPersistence(db)

			health := resilience.NewHealthMonitor(nil)
			health.RegisterComponent("database", resilience.DatabaseHealthCheck(db.Ping))
			health.RegisterComponent("sources", resilience.SourcesHealthCheck(p.Breakers()))
			health.RegisterComponent("snapshot", resilience.SnapshotHealthCheck(snaps.Current, 2*interval, nil))

			scheduler := pipeline.NewScheduler(p, interval, nil, app.Logger)
			if err := scheduler.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), app.Config.Engine.CycleTimeout)
				defer cancel()
				if err := scheduler.Stop(stopCtx); err != nil {
					app.Logger.Warn().Err(err).Msg("Scheduler did not stop in time")
				}
			}()

			srv := server.New(snaps, health, p.Breakers(), db, app.Logger)
			return srv.Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "cycle interval (overrides config)")

	return cmd
}

func newHistoryCmd(app *App) *cobra.Command {
	var (
		limit int
		prune int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List committed snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			db, err := app.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			if prune > 0 {
				n, err := db.Prune(ctx, prune)
				if err != nil {
					return err
				}
				if !output.IsJSON() {
					output.Info("Pruned %d snapshots, kept the newest %d", n, prune)
				}
			}

			infos, err := db.ListSnapshots(ctx, limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(infos)
			}
			if len(infos) == 0 {
				output.Warning("No snapshots yet. Run 'conviction run' first.")
				return nil
			}

			now := time.Now()
			table := NewTable(output, "VERSION", "AS OF", "COMMITTED", "PROFILE", "TICKERS", "EVENTS")
			for _, info := range infos {
				table.AddRow(
					fmt.Sprintf("v%d", info.Version),
					FormatDate(info.AsOf),
					FormatAge(info.CommittedAt, now),
					info.Profile,
					fmt.Sprintf("%d", info.Tickers),
					fmt.Sprintf("%d", info.Events),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of snapshots to list")
	cmd.Flags().IntVar(&prune, "prune", 0, "delete all but the newest N snapshots first")

	return cmd
}

func newRunsCmd(app *App) *cobra.Command {
	var (
		source string
		failed bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show per-source run history",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()

			filter := store.RunFilter{FailedOnly: failed, Limit: limit}
			if source != "" {
				src, err := models.ParseSource(source)
				if err != nil {
					return err
				}
				filter.Source = src
			}

			db, err := app.openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.GetSourceRuns(ctx, filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Warning("No source runs recorded")
				return nil
			}

			table := NewTable(output, "RUN AT", "SOURCE", "STATUS", "EVENTS", "DROPPED", "DURATION", "ERROR")
			for _, r := range runs {
				status := output.ColoredString(ColorGreen, "ok")
				switch {
				case r.Reused:
					status = output.ColoredString(ColorYellow, "reused")
				case !r.OK:
					status = output.ColoredString(ColorRed, "failed")
				}
				table.AddRow(
					FormatDateTime(r.RunAt),
					r.Source.Label(),
					status,
					fmt.Sprintf("%d", r.Events),
					fmt.Sprintf("%d", r.Dropped),
					FormatDuration(r.Duration),
					TruncateString(r.Error, 48),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "only this source")
	cmd.Flags().BoolVar(&failed, "failed", false, "only failed runs")
	cmd.Flags().IntVar(&limit, "limit", 50, "number of runs to show")

	return cmd
}
