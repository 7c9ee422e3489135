package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wadaphaq/oasis-api-tool/internal/catalog"
	"github.com/wadaphaq/oasis-api-tool/internal/config"
	"github.com/wadaphaq/oasis-api-tool/internal/downloader"
	"github.com/wadaphaq/oasis-api-tool/internal/logging"
	"github.com/wadaphaq/oasis-api-tool/internal/nodes"
	"github.com/wadaphaq/oasis-api-tool/internal/oasis"
	"github.com/wadaphaq/oasis-api-tool/internal/report"
	"github.com/wadaphaq/oasis-api-tool/internal/storage"
	"github.com/wadaphaq/oasis-api-tool/internal/window"
)

type downloadFlags struct {
	start         string
	end           string
	nodes         string
	market        string
	mode          string
	group         string
	dir           string
	baseURL       string
	delay         time.Duration
	maxWindowDays int
}

func (f *downloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.start, "start", "s", "", "Start date, YYYY-MM-DD (required)")
	cmd.Flags().StringVarP(&f.end, "end", "e", "", "End date, YYYY-MM-DD, exclusive (required)")
	cmd.Flags().StringVarP(&f.nodes, "nodes", "n", "", "Comma separated node ids, or "+downloader.AllSources)
	cmd.Flags().StringVarP(&f.market, "market", "m", "", "Market run id: DAM, RUC, RTM or HASP")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Request style: node or group")
	cmd.Flags().StringVar(&f.group, "group", "", "Group id for group mode")
	cmd.Flags().StringVarP(&f.dir, "download-dir", "d", "", "Directory archives are written to")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "OASIS API base URL")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "Pause between requests")
	cmd.Flags().IntVar(&f.maxWindowDays, "max-window-days", 0, "Longest span of one request")

	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
}

// apply copies the flags that were set over the loaded configuration.
func (f *downloadFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	set := cmd.Flags().Changed
	if set("nodes") {
		cfg.Download.Nodes = config.SplitList(f.nodes)
	}
	if set("market") {
		cfg.Download.Market = strings.ToUpper(f.market)
	}
	if set("mode") {
		cfg.Download.Mode = f.mode
	}
	if set("group") {
		cfg.Download.Group = f.group
	}
	if set("download-dir") {
		cfg.Storage.LocalDir = f.dir
	}
	if set("base-url") {
		cfg.API.BaseURL = f.baseURL
	}
	if set("delay") {
		cfg.Download.Delay = f.delay
	}
	if set("max-window-days") {
		cfg.Download.MaxWindowDays = f.maxWindowDays
	}
	return cfg.Validate()
}

// request builds the downloader request from the configuration.
func (f *downloadFlags) request(cfg config.Config) (downloader.Request, error) {
	rng, err := window.ParseRange(f.start, f.end)
	if err != nil {
		return downloader.Request{}, err
	}

	req := downloader.Request{
		Range:   rng,
		Sources: cfg.Download.Nodes,
		Market:  cfg.Download.Market,
		Group:   cfg.Download.Group,
	}
	if cfg.Download.Mode == "group" {
		req.Mode = downloader.ModeGroup
	}
	return req, nil
}

func newDownloadCmd(a *app) *cobra.Command {
	f := &downloadFlags{}
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download price archives for a date range",
		Long: "Download one archive per node and window (node mode) or per day (group mode). " +
			"Requests are sent one at a time with a fixed pause between them. " +
			"An interrupt stops the run after the request in flight.",
		Example: "  oasis-fetch download --start 2024-01-01 --end 2024-03-01 --nodes TH_NP15_GEN-APND --market DAM",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.apply(cmd, &a.cfg); err != nil {
				return err
			}
			req, err := f.request(a.cfg)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			return a.withMetrics(ctx, func(ctx context.Context) error {
				_, err := a.download(ctx, cmd.OutOrStdout(), req)
				return err
			})
		},
	}
	f.register(cmd)
	return cmd
}

// download runs one orchestrated download and prints progress to out.
func (a *app) download(ctx context.Context, out io.Writer, req downloader.Request) (downloader.Result, error) {
	client, err := oasis.NewClient(oasis.Options{
		BaseURL:   a.cfg.API.BaseURL,
		Timeout:   a.cfg.API.Timeout,
		UserAgent: a.cfg.API.UserAgent,
	})
	if err != nil {
		return downloader.Result{}, err
	}

	store, err := storage.NewArchiveStore(ctx, a.cfg.Storage)
	if err != nil {
		return downloader.Result{}, fmt.Errorf("create archive store: %w", err)
	}
	defer store.Close()

	recorders, closeRecorders, err := a.recorders(ctx)
	if err != nil {
		return downloader.Result{}, err
	}
	defer closeRecorders()

	opts := downloader.Options{
		MaxWindowDays: a.cfg.Download.MaxWindowDays,
		Delay:         a.cfg.Download.Delay,
		FilePrefix:    a.cfg.Download.FilePrefix,
		NodeHour:      downloader.Hour(a.cfg.Download.NodeHour),
		GroupHour:     downloader.Hour(a.cfg.Download.GroupHour),
		Metrics:       a.metrics,
		Recorders:     recorders,
	}
	if req.Mode == downloader.ModeNode && wantsAllSources(req.Sources) {
		list, err := nodes.Load(a.cfg.Download.NodeList)
		if err != nil {
			return downloader.Result{}, fmt.Errorf("load node list for %s: %w", downloader.AllSources, err)
		}
		opts.AllSources = list
	}

	orch := downloader.New(client, store, opts)
	run, err := orch.Start(ctx, req)
	if err != nil {
		return downloader.Result{}, err
	}
	go notifyCancel(ctx, orch, run)

	fmt.Fprintf(out, "run %s: %d requests to %s\n", run.ID(), run.Total(), a.cfg.Storage.LocalDir)
	if tasks := run.Tasks(); len(tasks) > 0 {
		fmt.Fprintf(out, "windows %s .. %s\n", tasks[0].Window, tasks[len(tasks)-1].Window)
	}
	for p := range run.Updates() {
		if p.Last != nil {
			fmt.Fprintln(out, progressLine(p))
		}
	}

	res, err := run.Wait(context.Background())
	if err != nil {
		return res, err
	}

	saved, httpErrs, transportErrs := res.Counts()
	fmt.Fprintf(out, "%s: %d/%d requests, %d saved, %d HTTP errors, %d transport errors\n",
		res.State, res.Completed, res.Total, saved, httpErrs, transportErrs)

	switch res.State {
	case downloader.StateFailed:
		return res, fmt.Errorf("download failed: %w", res.Err)
	case downloader.StateAborted:
		return res, errAborted
	}
	return res, nil
}

// recorders opens the report writer and the catalog.
func (a *app) recorders(ctx context.Context) ([]downloader.Recorder, func(), error) {
	reports, err := a.reportWriter()
	if err != nil {
		return nil, nil, err
	}

	cat, err := catalog.NewWriter(ctx, catalog.Config{
		PostgresDSN: a.cfg.Catalog.PostgresDSN,
		Namespace:   a.cfg.Catalog.Namespace,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}

	closeFn := func() { cat.Close() }
	return []downloader.Recorder{reports, cat}, closeFn, nil
}

func (a *app) reportWriter() (report.Writer, error) {
	return report.NewWriter(report.Config{
		Enabled: a.cfg.Report.Dir != "",
		Dir:     a.cfg.Report.Dir,
	})
}

// notifyCancel logs once when ctx ends while run is still going, so the
// wait for the request in flight is visible.
func notifyCancel(ctx context.Context, orch *downloader.Orchestrator, run *downloader.Run) {
	select {
	case <-run.Done():
	case <-ctx.Done():
		if active := orch.Active(); active == run && orch.State() == downloader.StateRunning {
			logging.Component("cli").Warn("cancel requested, stopping after the request in flight",
				"run_id", run.ID(), "completed", run.Completed(), "total", run.Total())
		}
	}
}

func wantsAllSources(sources []string) bool {
	for _, s := range sources {
		if s == downloader.AllSources {
			return true
		}
	}
	return false
}

func progressLine(p downloader.Progress) string {
	line := fmt.Sprintf("[%5.1f%%] %d/%d", p.Percent(), p.Completed, p.Total)
	if p.Last == nil {
		return line
	}
	line += fmt.Sprintf(" %s %s %s", p.Last.Task.Source, p.Last.Task.Window, p.Last.Outcome)
	if p.Last.Outcome == downloader.OutcomeHTTPError {
		line += fmt.Sprintf(" (status %d)", p.Last.Status)
	}
	return line
}
