package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/turtle/config"
	"github.com/rustyeddy/turtle/engine"
	"github.com/rustyeddy/turtle/feed"
	"github.com/rustyeddy/turtle/guard"
	"github.com/rustyeddy/turtle/journal"
	"github.com/rustyeddy/turtle/market"
	"github.com/rustyeddy/turtle/notify"
	"github.com/rustyeddy/turtle/position"
)

func newCheckCmd(rc *RootConfig) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one orchestrated position & risk check",
		Long: `Runs one full check: settles pending fills, enforces stops, evaluates
pyramiding under the portfolio risk limits, and persists the snapshot.
Designed to be fired by an external scheduler; overlapping invocations
observe the run lock and exit as a no-op.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.Load()
			if err != nil {
				return err
			}
			logger := rc.Logger()

			eng, cleanup, err := buildEngine(rc, cfg, dryRun)
			if err != nil {
				return err
			}
			defer cleanup()

			rep, err := eng.Run(cmd.Context())
			if errors.Is(err, guard.ErrBusy) {
				// Another run holds the lock: a no-op exit, not a failure.
				logger.Info("another check run is in progress; exiting")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout,
				"checked %d positions: %d settled, %d closed, %d pyramided, %d risk-rejected, %d skipped, %d discarded\n",
				rep.Positions, rep.Settled, rep.Closed, rep.Pyramided,
				rep.RiskRejections, rep.Skipped, rep.Discarded)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate and report without persisting mutations")
	return cmd
}

// buildEngine assembles the engine with the file-backed collaborators and
// the configured notification channels.
func buildEngine(rc *RootConfig, cfg *config.Config, dryRun bool) (*engine.Engine, func(), error) {
	logger := rc.Logger()

	var channels notify.Multi
	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, tg)
	}
	channels = append(channels, notify.Log{Logger: logger})

	var archive journal.Journal
	cleanup := func() {}
	if cfg.Data.ArchiveDB != "" {
		db, err := journal.NewSQLite(cfg.Data.ArchiveDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open archive: %w", err)
		}
		archive = db
		cleanup = func() { db.Close() }
	}

	var provider market.Provider
	if cfg.Data.CandlesPath != "" {
		provider = feed.NewCandles(cfg.Data.CandlesPath, cfg.Engine.ATRPeriod, config.Duration(cfg.Engine.QuoteMaxAge))
	} else {
		provider = feed.NewQuotes(cfg.Data.QuotesPath, config.Duration(cfg.Engine.QuoteMaxAge))
	}

	owner, _ := os.Hostname()
	eng, err := engine.New(engine.Options{
		Config:   cfg,
		Store:    position.NewStore(cfg.Data.SnapshotPath),
		Market:   provider,
		Fills:    feed.NewFills(cfg.Data.FillsPath),
		Notifier: channels,
		Archive:  archive,
		Logger:   logger,
		Owner:    fmt.Sprintf("%s/%d", owner, os.Getpid()),
		DryRun:   dryRun,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}
