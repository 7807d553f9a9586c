package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-poi-crawler/internal/geo"
)

func newRegionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Inspect or rebuild the province/city table",
	}
	cmd.AddCommand(newRegionsImportCmd())
	cmd.AddCommand(newRegionsListCmd())
	return cmd
}

func newRegionsImportCmd() *cobra.Command {
	var output string
	var details bool
	cmd := &cobra.Command{
		Use:   "import <adcode.xlsx>",
		Short: "Convert the AMap adcode workbook into a region table",
		Long: `Reads the first sheet of the AMap adcode/citycode workbook and writes the
province/city table as JSON. Point regions.file at the output to use it in
place of the built-in table.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open workbook: %w", err)
			}
			defer func() { _ = f.Close() }()

			imp, err := geo.ImportXLSX(f)
			if err != nil {
				return err
			}
			// Refuse to write a table the service could not load.
			if _, err := geo.New(imp.Table); err != nil {
				return fmt.Errorf("imported table is unusable: %w", err)
			}

			var payload any = imp.Table
			if details {
				payload = imp
			}
			w := cmd.OutOrStdout()
			if output != "" {
				out, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer func() { _ = out.Close() }()
				w = out
			}
			if err := writeJSON(w, payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "imported %d provinces, skipped %d rows\n",
				len(imp.Table.Provinces), imp.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write JSON to this file instead of stdout")
	cmd.Flags().BoolVar(&details, "details", false, "include adcode/citycode details per city")
	return cmd
}

func newRegionsListCmd() *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "list [province]",
		Short: "List provinces, or the cities a province expands to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lookup := geo.Default()
			if table != "" {
				var err error
				if lookup, err = geo.LoadFile(table); err != nil {
					return err
				}
			}
			names := lookup.Provinces()
			if len(args) == 1 {
				if !lookup.IsProvince(args[0]) {
					return fmt.Errorf("unknown province %q", args[0])
				}
				names = lookup.ExpandRegions(args)
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "region table JSON (default built-in)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
