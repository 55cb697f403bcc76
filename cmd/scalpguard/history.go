package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"scalpguard/internal/store/gormstore"
	"scalpguard/internal/store/model"
)

const historyTimeout = 5 * time.Second

func newOutcomesCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "outcomes",
		Short: "List recently resolved positions from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openHistoryStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), historyTimeout)
			defer cancel()
			rows, err := st.RecentOutcomes(ctx, limit)
			if err != nil {
				return err
			}
			return writeOutcomes(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows")
	return cmd
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent governor state changes from the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openHistoryStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), historyTimeout)
			defer cancel()
			rows, err := st.RecentGovernorEvents(ctx, limit)
			if err != nil {
				return err
			}
			return writeEvents(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows")
	return cmd
}

func openHistoryStore(opts *rootOptions) (*gormstore.GormStore, error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, err
	}
	return gormstore.NewGormStore(cfg.Store.Path)
}

func writeOutcomes(w io.Writer, rows []model.TradeOutcomeModel) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPOSITION\tSYMBOL\tSIDE\tREASON\tWIN\tNET USD\tHOLD")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%v\t%.4f\t%s\n",
			r.CreatedAt.Local().Format(time.DateTime), r.PositionID, r.Symbol, r.Side,
			r.Reason, r.IsWin, r.ProfitUSD, (time.Duration(r.HoldMs) * time.Millisecond).String())
	}
	return tw.Flush()
}

func writeEvents(w io.Writer, rows []model.GovernorEventModel) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tUNTIL\tREASON")
	for _, r := range rows {
		until := "-"
		if r.Until != nil {
			until = r.Until.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.CreatedAt.Local().Format(time.DateTime), r.Kind, until, r.Reason)
	}
	return tw.Flush()
}
