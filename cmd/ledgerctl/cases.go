package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func casesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "Inspect and repair case totals",
	}

	recompute := &cobra.Command{
		Use:   "recompute [CASE_ID...]",
		Short: "Re-derive case totals from approved contributions",
		Long: `Recompute sets current_amount of each case to the sum of its approved
contributions. Use --all to repair every case after an outage or a manual
database edit.`,
		RunE: runRecompute,
	}
	recompute.Flags().Bool("all", false, "recompute every case")

	cmd.AddCommand(recompute)
	return cmd
}

func runRecompute(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) > 0) {
		return fmt.Errorf("pass case ids or --all")
	}

	ctx := cmd.Context()
	cfg, release, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer release()
	auth, err := adminContext(ctx, cfg)
	if err != nil {
		return err
	}

	var ids []primitive.ObjectID
	if all {
		if ids, err = cfg.Store.ListCaseIDs(ctx); err != nil {
			return fmt.Errorf("failed to list cases: %w", err)
		}
	} else {
		for _, raw := range args {
			id, err := parseObjectID(raw, "case")
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
	}

	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No cases to recompute")
		return nil
	}

	bar := newProgressBar(out, len(ids), "Recomputing case totals...")
	var failed int
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		total, err := cfg.Ledger.RecomputeCase(ctx, auth, id)
		if err != nil {
			failed++
			slog.Error("Failed to recompute case", "case_id", id.Hex(), "error", err)
		} else {
			slog.Debug("Case recomputed", "case_id", id.Hex(), "current_amount", total.String())
		}
		if err := bar.Add(1); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	}

	fmt.Fprintf(out, "Recomputed %d cases, %d failed\n", len(ids)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d cases could not be recomputed", failed)
	}
	return nil
}
