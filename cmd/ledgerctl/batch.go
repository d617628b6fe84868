package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/batch"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Import and reconcile batch uploads",
		Long: `Bulk imports go through four steps: ingest the CSV, map every nickname to a
user, process the batch into cases and pending contributions, and, if needed,
delete everything the batch produced.`,
	}
	cmd.AddCommand(batchIngestCmd())
	cmd.AddCommand(batchShowCmd())
	cmd.AddCommand(batchMapCmd())
	cmd.AddCommand(batchProcessCmd())
	cmd.AddCommand(batchRepairCmd())
	cmd.AddCommand(batchDeleteCmd())
	return cmd
}

func batchIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Store a CSV import as a pending batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open import file: %w", err)
			}
			defer f.Close()

			cfg, release, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			auth, err := adminContext(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			b, items, err := cfg.Batches.Ingest(cmd.Context(), auth, name, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Batch %s %q ingested with %d items\n", b.ID.Hex(), b.Name, len(items))
			return nil
		},
	}
	cmd.Flags().String("name", "", "batch name (default: file name)")
	return cmd
}

func batchShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show BATCH_ID",
		Short: "Show a batch and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseObjectID(args[0], "batch")
			if err != nil {
				return err
			}
			cfg, release, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			auth, err := adminContext(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			b, items, err := cfg.Batches.Get(cmd.Context(), auth, id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %q: %s, %d/%d processed, %d failed\n",
				b.ID.Hex(), b.Name, b.Status, b.ProcessedItems, b.TotalItems, b.FailedItems)
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ROW\tNICKNAME\tAMOUNT\tCASE\tSTATUS\tERROR")
			for _, item := range items {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					item.RowNumber, item.Nickname, item.Amount.StringFixed(2), item.CaseKey, item.Status, item.Error)
			}
			return w.Flush()
		},
	}
}

func batchMapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "map BATCH_ID NICKNAME=USER_ID...",
		Short: "Map import nicknames to users",
		Long: `Assign a user to every item carrying a nickname. An empty user id
(NICKNAME=) clears the mapping.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseObjectID(args[0], "batch")
			if err != nil {
				return err
			}
			mappings, err := parseMappings(args[1:])
			if err != nil {
				return err
			}

			cfg, release, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			auth, err := adminContext(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			res, err := cfg.Batches.MapNicknames(cmd.Context(), auth, id, mappings)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Mapped %d items\n", res.Updated)
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  %s: %s\n", e.Nickname, e.Error)
			}
			return nil
		},
	}
}

func parseMappings(args []string) ([]batch.NicknameMapping, error) {
	mappings := make([]batch.NicknameMapping, 0, len(args))
	for _, arg := range args {
		nickname, rawID, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(nickname) == "" {
			return nil, fmt.Errorf("invalid mapping %q, expected NICKNAME=USER_ID", arg)
		}
		m := batch.NicknameMapping{Nickname: strings.TrimSpace(nickname)}
		if rawID = strings.TrimSpace(rawID); rawID != "" {
			id, err := primitive.ObjectIDFromHex(rawID)
			if err != nil {
				return nil, fmt.Errorf("invalid user id in mapping %q", arg)
			}
			m.UserID = &id
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

func batchProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process BATCH_ID",
		Short: "Create cases and pending contributions from a mapped batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseObjectID(args[0], "batch")
			if err != nil {
				return err
			}
			cfg, release, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			auth, err := adminContext(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var bar *progressbar.ProgressBar
			cfg.Batches.SetProgress(func(done, total int) {
				if bar == nil {
					bar = newProgressBar(out, total, "Processing batch items...")
				}
				if err := bar.Set(done); err != nil {
					slog.Warn("Failed to update progress bar", "error", err)
				}
			})

			res, err := cfg.Batches.Process(cmd.Context(), auth, id)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Batch %s %s: %d processed, %d successful, %d failed, %d cases created\n",
				res.BatchID.Hex(), res.Status, res.Processed, res.Successful, res.Failed, res.CasesCreated)
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  row %d: %s\n", e.RowNumber, e.Error)
			}
			return nil
		},
	}
}

func batchRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair BATCH_ID",
		Short: "Mark a batch stuck in processing as failed so it can be resumed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseObjectID(args[0], "batch")
			if err != nil {
				return err
			}
			cfg, release, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			auth, err := adminContext(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			b, err := cfg.Batches.Repair(cmd.Context(), auth, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Batch %s is now %s\n", b.ID.Hex(), b.Status)
			return nil
		},
	}
}

func batchDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete BATCH_ID",
		Short: "Delete a batch with the cases and contributions it created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseObjectID(args[0], "batch")
			if err != nil {
				return err
			}
			cfg, release, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			auth, err := adminContext(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			res, err := cfg.Batches.Delete(cmd.Context(), auth, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d cases and %d contributions, reset %d items\n",
				res.DeletedCases, res.DeletedContributions, res.ResetItems)
			return nil
		},
	}
}
