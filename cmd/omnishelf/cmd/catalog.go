package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/omnishelf/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the product catalog",
	Long: `Inspect the product catalog used to name, categorize and price detections.

Without --catalog (or catalog.path in the config file) the built-in catalog is used.

Examples:
  omnishelf catalog list
  omnishelf catalog show grozi_31
  omnishelf catalog show "Pringles Original"
  omnishelf catalog export > products.yaml`,
}

var catalogListCmd = &cobra.Command{
	Use:          "list",
	Short:        "List all catalog products",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog(cmd)
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cat.Entries())
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "CODE\tNAME\tCATEGORY\tPRICE\tEXPECTED")
		for _, e := range cat.Entries() {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%d\n", e.Code, e.DisplayName, e.Category, e.UnitPrice, e.ExpectedCount)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d product(s)\n", cat.Len())
		return nil
	},
}

var catalogShowCmd = &cobra.Command{
	Use:          "show <code|name>",
	Short:        "Show one catalog product by code or display name",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog(cmd)
		if err != nil {
			return err
		}
		e, ok := cat.Lookup(args[0])
		if !ok {
			code, found := cat.CodeForName(args[0])
			if !found {
				return fmt.Errorf("product not found: %s", args[0])
			}
			e, _ = cat.Lookup(code)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	},
}

var catalogExportCmd = &cobra.Command{
	Use:          "export [file]",
	Short:        "Write the catalog as YAML",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog(cmd)
		if err != nil {
			return err
		}
		data, err := cat.Marshal()
		if err != nil {
			return fmt.Errorf("failed to encode catalog: %w", err)
		}
		if len(args) == 0 {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(args[0], data, 0o600); err != nil {
			return fmt.Errorf("failed to write catalog: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Catalog written to %s\n", args[0])
		return nil
	},
}

// loadCatalog resolves the catalog from --catalog or the configuration.
func loadCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	path := GetConfig().Catalog.Path
	if cmd.Flags().Changed("catalog") {
		path, _ = cmd.Flags().GetString("catalog")
	}
	cat, err := catalog.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return cat, nil
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogListCmd, catalogShowCmd, catalogExportCmd)
	catalogCmd.PersistentFlags().String("catalog", "", "product catalog YAML (default: built-in catalog)")
	catalogListCmd.Flags().Bool("json", false, "print the catalog as JSON")
}
