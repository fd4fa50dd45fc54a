// Package cli provides the command-line interface for the conviction engine.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"conviction-engine/internal/analysis/normalize"
	"conviction-engine/internal/collect"
	"conviction-engine/internal/config"
	apperrors "conviction-engine/internal/errors"
	"conviction-engine/internal/logging"
	"conviction-engine/internal/pipeline"
	"conviction-engine/internal/snapshot"
	"conviction-engine/internal/store"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
}

// NewRootCmd creates the root command for the CLI. Configuration is loaded
// before any subcommand runs so --config can select the directory.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "conviction",
		Short: "Smart-money conviction engine",
		Long: `Conviction fuses congressional trades, ARK fund moves, dark-pool prints,
13F filings, insider transactions, short interest and superinvestor holdings
into a single 0-100 conviction score per ticker.

Use 'conviction run' to aggregate the latest provider drops, then
'conviction rank', 'conviction feed' or 'conviction ticker <symbol>' to read
the result. 'conviction serve' keeps aggregating on a schedule and serves
the same views over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.ConfigDir = dir
			app.Logger = logging.NewLoggerWithConfig(cfg.Logging)

			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/conviction-engine)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addEngineCommands(rootCmd, app)
	addQueryCommands(rootCmd, app)

	return rootCmd
}

// Execute runs the root command and reports errors on stderr.
func Execute(logger zerolog.Logger) int {
	rootCmd := NewRootCmd(logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// openStore opens the snapshot database, creating its directory if needed.
func (a *App) openStore() (*store.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(a.Config.Store.Path), 0755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return store.NewSQLiteStore(a.Config.Store.Path)
}

// restoreSnapshots seeds a snapshot store from the database. An empty
// database yields an empty store.
func (a *App) restoreSnapshots(ctx context.Context, db store.SnapshotStore) (*snapshot.Store, error) {
	snaps := snapshot.NewStore()
	latest, err := db.LoadLatest(ctx)
	switch {
	case errors.Is(err, apperrors.ErrNoSnapshot):
		return snaps, nil
	case err != nil:
		return nil, err
	}
	snaps.Restore(latest)
	a.Logger.Debug().Uint64("version", latest.Version).Time("as_of", latest.AsOf).Msg("Restored snapshot")
	return snaps, nil
}

// newPipeline wires the file collectors, normalizers and aggregation rules
// from the loaded configuration.
func (a *App) newPipeline(snaps *snapshot.Store) (*pipeline.Pipeline, error) {
	tables, err := normalize.LoadTables(a.Config.Input.TablesPath)
	if err != nil {
		return nil, err
	}
	opts, err := pipeline.OptionsFromConfig(a.Config)
	if err != nil {
		return nil, err
	}
	normalizers := collect.Normalizers(a.Config.Input.Dir, normalize.OptionsFromConfig(a.Config, tables))
	return pipeline.New(opts, normalizers, snaps, nil, a.Logger), nil
}

func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Conviction Engine v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the engine configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if _, err := normalize.LoadTables(app.Config.Input.TablesPath); err != nil {
				output.Error("Reputation tables failed to load: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Engine")
	output.Printf("  Profile:          %s\n", cfg.Engine.Profile)
	output.Printf("  Interval:         %s\n", cfg.Engine.Interval)
	output.Printf("  Cycle timeout:    %s\n", cfg.Engine.CycleTimeout)
	output.Printf("  Source timeout:   %s\n", cfg.Engine.SourceTimeout)
	output.Printf("  Stale sources:    %s\n", cfg.Engine.StaleSourcePolicy)
	output.Printf("  Breaker:          %d failures, %s cooldown\n", cfg.Engine.BreakerFailures, cfg.Engine.BreakerCooldown)
	output.Printf("  Retry:            %d attempts, %s initial delay\n", cfg.Engine.RetryAttempts, cfg.Engine.RetryDelay)
	output.Println()

	output.Bold("Windows (days)")
	output.Printf("  Congress: %d  ARK: %d  Dark pool: %d  13F: %d\n",
		cfg.Windows.Congress, cfg.Windows.ARK, cfg.Windows.DarkPool, cfg.Windows.Institutional)
	output.Printf("  Insider: %d  Short interest: %d  Superinvestor: %d\n",
		cfg.Windows.Insider, cfg.Windows.ShortInterest, cfg.Windows.Superinvestor)
	output.Println()

	output.Bold("Scoring")
	output.Printf("  Decay:            %s (half-life %.0fd)\n", cfg.Decay.Mode, cfg.Decay.HalfLifeDays)
	output.Printf("  Squeeze setups:   %s\n", cfg.ShortInterest.SqueezeDirection)
	output.Printf("  Dark-pool z:      %.2f over %d days\n", cfg.DarkPool.ZThreshold, cfg.DarkPool.BaselineDays)
	output.Printf("  Bonus:            %.0f per source, cap %.0f\n", cfg.Engine.BonusPerSource, cfg.Engine.BonusCap)
	output.Println()

	output.Bold("Paths")
	output.Printf("  Input:            %s\n", cfg.Input.Dir)
	output.Printf("  Database:         %s\n", cfg.Store.Path)
	output.Printf("  Listen:           %s\n", cfg.Server.Addr)
}
