package main

import (
	"github.com/spf13/cobra"
)

func newCombineCmd(a *app) *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "combine",
		Short: "Merge extracted CSV files into one table",
		Long: "Read every CSV file of the extract directory and write the union of their columns to one file. " +
			"The output format follows the extension: .csv or .parquet. Malformed files are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("in") {
				a.cfg.Extract.OutputDir = in
			}
			if cmd.Flags().Changed("out") {
				a.cfg.Combine.Output = out
			}
			_, err := a.combineFiles(cmd.Context(), cmd.OutOrStdout(), a.cfg.Extract.OutputDir, a.cfg.Combine.Output)
			return err
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "Directory holding the extracted CSV files")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (.csv or .parquet)")
	return cmd
}
