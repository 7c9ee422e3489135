// Package config loads oasis-fetch settings from defaults, an optional YAML
// file and OASIS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wadaphaq/oasis-api-tool/internal/logging"
	"github.com/wadaphaq/oasis-api-tool/internal/metrics"
	"github.com/wadaphaq/oasis-api-tool/internal/storage"
)

type Config struct {
	Download DownloadConfig        `yaml:"download"`
	API      APIConfig             `yaml:"api"`
	Storage  storage.StorageConfig `yaml:"storage"`
	Extract  ExtractConfig         `yaml:"extract"`
	Combine  CombineConfig         `yaml:"combine"`
	Nodes    NodesConfig           `yaml:"nodes"`
	Logging  logging.Config        `yaml:"logging"`
	Metrics  metrics.Config        `yaml:"metrics"`
	Catalog  CatalogConfig         `yaml:"catalog"`
	Report   ReportConfig          `yaml:"report"`
}

type DownloadConfig struct {
	Market        string        `yaml:"market" validate:"omitempty,oneof=DAM RUC RTM HASP"`
	Mode          string        `yaml:"mode" validate:"oneof=node group"`
	Group         string        `yaml:"group"`
	Nodes         []string      `yaml:"nodes"`
	NodeList      string        `yaml:"node_list"` // nodes.json used for ALL_NODES
	MaxWindowDays int           `yaml:"max_window_days" validate:"min=1,max=31"`
	Delay         time.Duration `yaml:"delay"`
	FilePrefix    string        `yaml:"file_prefix" validate:"required"`
	NodeHour      int           `yaml:"node_hour" validate:"min=0,max=23"`
	GroupHour     int           `yaml:"group_hour" validate:"min=0,max=23"`
}

type APIConfig struct {
	BaseURL   string        `yaml:"base_url" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type ExtractConfig struct {
	OutputDir string `yaml:"output_dir" validate:"required"`
}

type CombineConfig struct {
	Output       string `yaml:"output" validate:"required"`
	Compression  string `yaml:"compression" validate:"omitempty,oneof=snappy zstd gzip none"`
	RowGroupRows int    `yaml:"row_group_rows" validate:"min=0"`
}

type NodesConfig struct {
	Input  string `yaml:"input"`
	Column string `yaml:"column"`
	Sheet  string `yaml:"sheet"`
	JSON   string `yaml:"json"`
	CSV    string `yaml:"csv"`
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Namespace   string `yaml:"namespace"`
}

type ReportConfig struct {
	Dir string `yaml:"dir"` // empty disables run reports
}

// Default returns the settings of the original tooling: 30-day windows,
// a 10s delay and the dataset / unzip-dataset / combined.csv layout.
func Default() Config {
	return Config{
		Download: DownloadConfig{
			Market:        "DAM",
			Mode:          "node",
			Group:         "DAM_LMP_GRP",
			NodeList:      "nodes.json",
			MaxWindowDays: 30,
			Delay:         10 * time.Second,
			FilePrefix:    "CAISO_LMP",
			NodeHour:      0,
			GroupHour:     7,
		},
		API: APIConfig{
			BaseURL:   "http://oasis.caiso.com/oasisapi/",
			Timeout:   60 * time.Second,
			UserAgent: "oasis-fetch",
		},
		Storage: storage.StorageConfig{
			LocalDir: "dataset",
			Prefix:   "oasis/",
		},
		Extract: ExtractConfig{OutputDir: "unzip-dataset"},
		Combine: CombineConfig{
			Output:       "combined.csv",
			Compression:  "snappy",
			RowGroupRows: 10000,
		},
		Nodes: NodesConfig{
			Input:  "LMPLocations_vs_FullList.xlsx",
			Column: "name",
			JSON:   "nodes.json",
			CSV:    "nodes.csv",
		},
		Logging: logging.Config{Format: "text", Level: "info"},
		Metrics: metrics.Config{Address: ":9090"},
		Catalog: CatalogConfig{Namespace: "caiso"},
	}
}

// Load builds the configuration. path may be empty; a missing file at a
// non-empty path is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
		slog.Debug("loaded config file", "component", "config", "path", path)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv applies OASIS_* environment variables over c.
func (c *Config) LoadFromEnv() error {
	c.Download.Market = getenvDefault("OASIS_MARKET", c.Download.Market)
	c.Download.Mode = getenvDefault("OASIS_MODE", c.Download.Mode)
	c.Download.Group = getenvDefault("OASIS_GROUP", c.Download.Group)
	c.Download.NodeList = getenvDefault("OASIS_NODE_LIST", c.Download.NodeList)
	c.Download.FilePrefix = getenvDefault("OASIS_FILE_PREFIX", c.Download.FilePrefix)
	if v := os.Getenv("OASIS_NODES"); v != "" {
		c.Download.Nodes = SplitList(v)
	}

	c.API.BaseURL = getenvDefault("OASIS_BASE_URL", c.API.BaseURL)
	c.API.UserAgent = getenvDefault("OASIS_USER_AGENT", c.API.UserAgent)

	c.Storage.LocalDir = getenvDefault("OASIS_DOWNLOAD_DIR", c.Storage.LocalDir)
	c.Storage.Mirror = getenvDefault("OASIS_MIRROR", c.Storage.Mirror)
	c.Storage.Bucket = getenvDefault("OASIS_BUCKET", c.Storage.Bucket)
	c.Storage.S3Endpoint = getenvDefault("OASIS_S3_ENDPOINT", c.Storage.S3Endpoint)
	c.Storage.S3Region = getenvDefault("OASIS_S3_REGION", c.Storage.S3Region)
	c.Storage.URL = getenvDefault("OASIS_MIRROR_URL", c.Storage.URL)
	c.Storage.Prefix = getenvDefault("OASIS_MIRROR_PREFIX", c.Storage.Prefix)

	c.Extract.OutputDir = getenvDefault("OASIS_EXTRACT_DIR", c.Extract.OutputDir)
	c.Combine.Output = getenvDefault("OASIS_OUTPUT", c.Combine.Output)
	c.Combine.Compression = getenvDefault("OASIS_PARQUET_COMPRESSION", c.Combine.Compression)

	c.Logging.Format = getenvDefault("OASIS_LOG_FORMAT", c.Logging.Format)
	c.Logging.Level = getenvDefault("OASIS_LOG_LEVEL", c.Logging.Level)

	c.Metrics.Address = getenvDefault("OASIS_METRICS_ADDR", c.Metrics.Address)
	if v := os.Getenv("OASIS_METRICS_ENABLED"); v != "" {
		c.Metrics.Enabled = v == "true" || v == "1"
	}

	c.Catalog.PostgresDSN = getenvDefault("OASIS_CATALOG_DSN", c.Catalog.PostgresDSN)
	c.Catalog.Namespace = getenvDefault("OASIS_CATALOG_NAMESPACE", c.Catalog.Namespace)
	c.Report.Dir = getenvDefault("OASIS_REPORT_DIR", c.Report.Dir)

	var err error
	if c.Download.MaxWindowDays, err = getenvInt("OASIS_MAX_WINDOW_DAYS", c.Download.MaxWindowDays); err != nil {
		return err
	}
	if c.Download.Delay, err = getenvDuration("OASIS_DELAY", c.Download.Delay); err != nil {
		return err
	}
	if c.API.Timeout, err = getenvDuration("OASIS_TIMEOUT", c.API.Timeout); err != nil {
		return err
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Download.Delay < 0 {
		return errors.New("config: download.delay must not be negative")
	}
	if c.API.Timeout <= 0 {
		return errors.New("config: api.timeout must be positive")
	}
	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
