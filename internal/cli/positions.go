package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/turtle/engine"
	"github.com/rustyeddy/turtle/journal"
	"github.com/rustyeddy/turtle/position"
)

func newPositionsCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Inspect and manage positions",
	}

	cmd.AddCommand(
		newPositionsListCmd(rc),
		newPositionsOpenCmd(rc),
		newPositionsSummaryCmd(rc),
	)
	return cmd
}

func newPositionsListCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live positions from the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.Load()
			if err != nil {
				return err
			}
			snap, err := position.NewStore(cfg.Data.SnapshotPath).Load()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSYMBOL\tSYS\tDIR\tSTATUS\tUNITS\tENTRY\tSTOP")
			for _, p := range snap.Open() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d/%d\t%.4f\t%.4f\n",
					p.ID, p.Symbol, p.System, p.Direction, p.Status,
					p.FilledUnits(), p.Units(), p.EntryPrice, p.StopLoss)
			}
			return w.Flush()
		},
	}
}

func newPositionsOpenCmd(rc *RootConfig) *cobra.Command {
	var (
		symbol    string
		system    int
		direction string
		price     float64
		atr       float64
		shares    int
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Register a confirmed breakout signal as a pending-entry position",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.Load()
			if err != nil {
				return err
			}
			eng, cleanup, err := buildEngine(rc, cfg, dryRun)
			if err != nil {
				return err
			}
			defer cleanup()

			dir := position.Long
			if direction == "short" || direction == "SHORT" {
				dir = position.Short
			}
			p, err := eng.Open(cmd.Context(), engine.OpenRequest{
				Symbol:    symbol,
				System:    system,
				Direction: dir,
				Price:     price,
				N:         atr,
				Shares:    shares,
			})
			if err != nil {
				return err
			}
			fmt.Printf("pending position %s: %s system %d %s @ %.4f, stop %.4f\n",
				p.ID, p.Symbol, p.System, p.Direction, p.EntryPrice, p.StopLoss)
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "Instrument symbol")
	cmd.Flags().IntVar(&system, "system", 1, "System variant: 1 or 2")
	cmd.Flags().StringVar(&direction, "direction", "long", "long or short")
	cmd.Flags().Float64Var(&price, "price", 0, "Breakout price")
	cmd.Flags().Float64Var(&atr, "n", 0, "Current N (ATR)")
	cmd.Flags().IntVar(&shares, "shares", 0, "Shares per unit from the position sizer")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate without persisting")
	cmd.MarkFlagRequired("symbol")
	cmd.MarkFlagRequired("price")
	cmd.MarkFlagRequired("n")
	cmd.MarkFlagRequired("shares")
	return cmd
}

func newPositionsSummaryCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Summarize the closed-position archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.Load()
			if err != nil {
				return err
			}
			db, err := journal.NewSQLite(cfg.Data.ArchiveDB)
			if err != nil {
				return err
			}
			defer db.Close()

			s, err := db.Summarize()
			if err != nil {
				return err
			}
			fmt.Printf("closed: %d  winners: %d  win rate: %.1f%%  total P&L: %.2f  avg R: %.2f\n",
				s.Closed, s.Winners, 100*s.WinRate, s.TotalPL, s.AvgR)
			return nil
		},
	}
}
