package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/omnishelf/internal/store"
)

var stockCmd = &cobra.Command{
	Use:   "stock",
	Short: "Report stock levels from saved scans",
	Long: `Report stock levels and scan history from the scan store.

Scans are saved by "omnishelf detect --save" and by the server when the
store is enabled. Stock counts use the most recent scan of each shelf.

Examples:
  omnishelf stock summary
  omnishelf stock scans --limit 10
  omnishelf stock show 3f6c1a9e-...`,
}

var stockSummaryCmd = &cobra.Command{
	Use:          "summary",
	Short:        "Per-product stock levels and inventory value",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			summary, err := st.StockSummary(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to compute stock summary: %w", err)
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return encodeJSON(cmd, summary)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "CODE\tNAME\tCOUNT\tLEVEL\tVALUE\tLAST SEEN")
			for _, p := range summary {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.2f\t%s\n",
					p.Code, p.Name, p.TotalCount, p.Level, p.InventoryValue, p.LastSeen.Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Total inventory value: %.2f\n", store.TotalValue(summary))
			return nil
		})
	},
}

var stockScansCmd = &cobra.Command{
	Use:          "scans",
	Short:        "List recent scans, newest first",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			return errors.New("--limit must be positive")
		}
		return withStore(cmd, func(st *store.Store) error {
			scans, err := st.Scans(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list scans: %w", err)
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return encodeJSON(cmd, scans)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "SESSION\tSHELF\tSCANNED AT\tDETECTIONS")
			for _, s := range scans {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.SessionID, s.ShelfID, s.ScannedAt.Format(time.RFC3339), s.Detections)
			}
			return tw.Flush()
		})
	},
}

var stockShowCmd = &cobra.Command{
	Use:          "show <session-id>",
	Short:        "Show the detections saved for one scan",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			dets, err := st.Detections(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load scan %s: %w", args[0], err)
			}
			if len(dets) == 0 {
				return fmt.Errorf("no detections stored for session %s", args[0])
			}
			return encodeJSON(cmd, dets)
		})
	},
}

// withStore opens the scan store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(*store.Store) error) error {
	path := GetConfig().Store.Path
	if cmd.Flags().Changed("store-path") {
		path, _ = cmd.Flags().GetString("store-path")
	}
	if !fileExists(path) {
		return fmt.Errorf("scan store %s does not exist (save scans with detect --save first)", path)
	}
	cat, err := loadCatalog(cmd)
	if err != nil {
		return err
	}
	st, err := store.Open(path, cat)
	if err != nil {
		return fmt.Errorf("failed to open scan store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("closing scan store", "error", err)
		}
	}()
	return fn(st)
}

func encodeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(stockCmd)
	stockCmd.AddCommand(stockSummaryCmd, stockScansCmd, stockShowCmd)
	stockCmd.PersistentFlags().String("store-path", "omnishelf.db", "scan store database path")
	stockCmd.PersistentFlags().String("catalog", "", "product catalog YAML (default: built-in catalog)")
	stockCmd.PersistentFlags().Bool("json", false, "print results as JSON")
	stockScansCmd.Flags().Int("limit", 20, "maximum number of scans to list")
}
