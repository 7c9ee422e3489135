package main

import (
	"github.com/spf13/cobra"
)

func newExtractCmd(a *app) *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Expand downloaded archives into a flat directory",
		Long: "Expand every .zip, .gz and .zst file of the download directory into the extract directory. " +
			"Files are written flat; a later file with the same name replaces an earlier one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("in") {
				a.cfg.Storage.LocalDir = in
			}
			if cmd.Flags().Changed("out") {
				a.cfg.Extract.OutputDir = out
			}
			_, err := a.extractArchives(cmd.Context(), cmd.OutOrStdout(), a.cfg.Storage.LocalDir, a.cfg.Extract.OutputDir)
			return err
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "Directory holding the archives")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Directory to extract into")
	return cmd
}
