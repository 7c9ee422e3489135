package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/wadaphaq/oasis-api-tool/internal/extract"
	"github.com/wadaphaq/oasis-api-tool/internal/metrics"
	"github.com/wadaphaq/oasis-api-tool/internal/tables"
)

// signalContext is cancelled on SIGINT or SIGTERM. A running download treats
// that as a cancel request and stops after the request in flight.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withMetrics runs fn while serving /metrics when enabled. The address is
// bound before fn starts, so a taken port fails the command up front.
func (a *app) withMetrics(ctx context.Context, fn func(context.Context) error) error {
	if !a.cfg.Metrics.Enabled {
		return fn(ctx)
	}

	ln, err := metrics.Listen(a.cfg.Metrics.Address)
	if err != nil {
		return err
	}

	srvCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(srvCtx)
	g.Go(func() error {
		return metrics.Serve(gctx, ln, a.registry)
	})
	g.Go(func() error {
		defer stopServer()
		return fn(ctx)
	})
	return g.Wait()
}

// extractArchives expands the download directory into the extract directory.
func (a *app) extractArchives(ctx context.Context, out io.Writer, inputDir, outputDir string) (extract.Summary, error) {
	x, err := extract.New(a.metrics)
	if err != nil {
		return extract.Summary{}, err
	}
	defer x.Close()

	sum, err := x.ExtractAll(ctx, inputDir, outputDir)
	if err != nil {
		return sum, err
	}
	fmt.Fprintf(out, "extracted %d files from %d archives into %s\n", len(sum.Files), sum.Archives, outputDir)
	return sum, nil
}

// combineFiles merges the extracted CSV files into the output table.
func (a *app) combineFiles(ctx context.Context, out io.Writer, inputDir, outputPath string) (tables.Summary, error) {
	asm := tables.New(tables.OutputConfig{
		Compression:  a.cfg.Combine.Compression,
		RowGroupRows: a.cfg.Combine.RowGroupRows,
	}, a.metrics)

	sum, err := asm.Assemble(ctx, inputDir, outputPath)
	if err != nil {
		return sum, err
	}
	for _, s := range sum.Skipped {
		fmt.Fprintf(out, "skipped %s: %v\n", s.Name, s.Err)
	}
	fmt.Fprintf(out, "combined %d files into %s: %d rows, %d columns (%s)\n",
		len(sum.Files), outputPath, sum.Rows, len(sum.Columns), sum.Checksum)
	return sum, nil
}
