package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wadaphaq/oasis-api-tool/internal/report"
)

func newRunCmd(a *app) *cobra.Command {
	f := &downloadFlags{}
	var extractDir, output string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Download, extract and combine in one go",
		Long: "Run the whole pipeline: download archives for the range, expand them and " +
			"merge the CSV files into the output table. Extraction only starts when the " +
			"download completed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("extract-dir") {
				a.cfg.Extract.OutputDir = extractDir
			}
			if cmd.Flags().Changed("output") {
				a.cfg.Combine.Output = output
			}
			if err := f.apply(cmd, &a.cfg); err != nil {
				return err
			}
			req, err := f.request(a.cfg)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			out := cmd.OutOrStdout()

			return a.withMetrics(ctx, func(ctx context.Context) error {
				res, err := a.download(ctx, out, req)
				if err != nil {
					return err
				}

				xs, err := a.extractArchives(ctx, out, a.cfg.Storage.LocalDir, a.cfg.Extract.OutputDir)
				if err != nil {
					return err
				}
				cs, err := a.combineFiles(ctx, out, a.cfg.Extract.OutputDir, a.cfg.Combine.Output)
				if err != nil {
					return err
				}

				reports, err := a.reportWriter()
				if err != nil {
					return err
				}
				rep := report.FromResult(res)
				rep.Extract = &report.ExtractInfo{Archives: xs.Archives, Files: len(xs.Files)}
				rep.Combine = &report.CombineInfo{
					Output:   cs.Output,
					Files:    len(cs.Files),
					Rows:     cs.Rows,
					Checksum: cs.Checksum,
				}
				for _, s := range cs.Skipped {
					rep.Combine.Skipped = append(rep.Combine.Skipped, s.Name)
				}
				if err := reports.Save(ctx, rep); err != nil {
					return fmt.Errorf("save run report: %w", err)
				}
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&extractDir, "extract-dir", "", "Directory to extract into")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Combined output file (.csv or .parquet)")
	return cmd
}
