// Command oasis-fetch downloads CAISO OASIS price archives, expands them and
// merges the extracted CSV files into one table.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wadaphaq/oasis-api-tool/internal/config"
	"github.com/wadaphaq/oasis-api-tool/internal/logging"
	"github.com/wadaphaq/oasis-api-tool/internal/metrics"
)

// errAborted is returned when a download run was cancelled by a signal.
var errAborted = errors.New("download aborted")

// app holds the state shared by all commands of one invocation.
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg      config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "oasis-fetch",
		Short: "CAISO OASIS price downloader",
		Long: "oasis-fetch downloads locational marginal price archives from the CAISO OASIS API " +
			"in rate-limited windows, extracts them and combines the CSV files into one table.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("OASIS_CONFIG"), "Path to YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: text or json")

	root.AddCommand(
		newDownloadCmd(a),
		newExtractCmd(a),
		newCombineCmd(a),
		newNodesCmd(a),
		newRunCmd(a),
		newStatusCmd(a),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	logging.Setup(cfg.Logging)

	a.cfg = cfg
	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New("oasis", a.registry)
	return nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
