package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wadaphaq/oasis-api-tool/internal/catalog"
	"github.com/wadaphaq/oasis-api-tool/internal/report"
	"github.com/wadaphaq/oasis-api-tool/internal/tables"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last recorded run",
		Long: "Print the latest run report and, when it covers the combine stage, check the combined " +
			"output against the recorded checksum. With a catalog configured the last cataloged run " +
			"is printed too.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.status(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) status(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if a.cfg.Report.Dir == "" && a.cfg.Catalog.PostgresDSN == "" {
		return errors.New("no run history: set report.dir or catalog.postgres_dsn")
	}

	if a.cfg.Report.Dir != "" {
		reports, err := a.reportWriter()
		if err != nil {
			return err
		}
		rep, err := reports.Latest(ctx)
		switch {
		case errors.Is(err, report.ErrNoReport):
			fmt.Fprintf(out, "no run reports in %s\n", a.cfg.Report.Dir)
		case err != nil:
			return err
		default:
			if err := printReport(out, rep); err != nil {
				return err
			}
		}
	}

	if a.cfg.Catalog.PostgresDSN == "" {
		return nil
	}
	cat, err := catalog.NewWriter(ctx, catalog.Config{
		PostgresDSN: a.cfg.Catalog.PostgresDSN,
		Namespace:   a.cfg.Catalog.Namespace,
	})
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	last, err := cat.LastRun(ctx)
	if err != nil {
		return err
	}
	if last == nil {
		fmt.Fprintf(out, "catalog %s: no runs\n", a.cfg.Catalog.Namespace)
		return nil
	}
	fmt.Fprintf(out, "catalog %s: run %s %s %d/%d, finished %s\n",
		last.Namespace, last.RunID, last.State, last.Completed, last.Total,
		last.FinishedAt.Format(time.RFC3339))
	return nil
}

// printReport writes a report summary. A combined output that no longer
// matches its recorded checksum is an error.
func printReport(out io.Writer, rep *report.Report) error {
	fmt.Fprintf(out, "run %s: %s %d/%d requests, %d saved, %d HTTP errors, %d transport errors\n",
		rep.RunID, rep.State, rep.Completed, rep.Total, rep.Saved, rep.HTTPErrors, rep.Transport)
	fmt.Fprintf(out, "range %s..%s, finished %s\n", rep.RangeStart, rep.RangeEnd, rep.FinishedAt.Format(time.RFC3339))
	for _, f := range rep.Failures {
		fmt.Fprintf(out, "  failed %s %s: %s\n", f.Source, f.Window, f.Error)
	}
	if rep.Error != "" {
		fmt.Fprintf(out, "error: %s\n", rep.Error)
	}
	if rep.Combine == nil {
		return nil
	}

	fmt.Fprintf(out, "combined %s: %d rows from %d files\n", rep.Combine.Output, rep.Combine.Rows, rep.Combine.Files)
	if err := tables.VerifyFile(rep.Combine.Output, rep.Combine.Checksum); err != nil {
		return fmt.Errorf("verify combined output: %w", err)
	}
	fmt.Fprintf(out, "checksum ok (%s)\n", rep.Combine.Checksum)
	return nil
}
