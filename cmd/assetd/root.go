package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"assetd/internal/config"
	"assetd/internal/manifest"
	"assetd/internal/preload"
)

// options collects every flag; config file values are overridden only by
// flags the user actually set.
type options struct {
	configPath   string
	logLevel     string
	logFormat    string
	manifestPath string
	assetDir     string
	assetBaseURL string

	addr               string
	budgetMB           int
	warm               string
	corsOrigins        string
	httpLog            string
	progressiveTimeout time.Duration
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "assetd",
		Short:         "3D asset preload cache with fallback chains and context recovery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", os.Getenv("ASSETD_CONFIG"), "Config file (.yaml, .json or .toml)")
	pf.StringVar(&o.logLevel, "log-level", "", "Log level: debug|info|warn|error (default from config or info)")
	pf.StringVar(&o.logFormat, "log-format", "json", "Log format: json|console")
	pf.StringVar(&o.manifestPath, "manifest", "", "Manifest file (.json, .yaml or .toml)")
	pf.StringVar(&o.assetDir, "asset-dir", "", "Directory holding *.glb/*.gltf assets")
	pf.StringVar(&o.assetBaseURL, "asset-base-url", "", "Base URL assets are fetched from")

	root.AddCommand(newServeCmd(o), newValidateCmd(o), newExportCmd(o))
	return root
}

// resolveConfig loads the config file, if any, and applies flag overrides.
func resolveConfig(cmd *cobra.Command, o *options) (config.Config, error) {
	cfg := config.Defaults()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("manifest") {
		cfg.ManifestPath = o.manifestPath
	}
	if flags.Changed("asset-dir") {
		cfg.AssetDir = o.assetDir
	}
	if flags.Changed("asset-base-url") {
		cfg.AssetBaseURL = o.assetBaseURL
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Lookup("addr") != nil && (flags.Changed("addr") || os.Getenv("ASSETD_ADDR") != "") {
		cfg.Addr = o.addr
	}
	if flags.Changed("budget-mb") {
		cfg.BudgetMB = o.budgetMB
	}
	if flags.Changed("warm") {
		cfg.Warm = splitCSV(o.warm)
	}
	if flags.Changed("cors-origins") {
		cfg.CORS.Origins = splitCSV(o.corsOrigins)
		cfg.CORS.Enabled = len(cfg.CORS.Origins) > 0
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func newLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// loadManifest reads the manifest file, or scans the asset directory when no
// file is configured.
func loadManifest(cfg config.Config) (*manifest.Snapshot, error) {
	if cfg.ManifestPath != "" {
		return manifest.LoadFile(cfg.ManifestPath)
	}
	if cfg.AssetDir == "" {
		return nil, fmt.Errorf("either --manifest or --asset-dir is required")
	}
	return manifest.ScanDir(cfg.AssetDir, "scan-"+time.Now().UTC().Format("20060102T150405Z"))
}

func newFetcher(cfg config.Config) preload.Fetcher {
	if cfg.AssetBaseURL != "" {
		return &preload.HTTPFetcher{BaseURL: cfg.AssetBaseURL, Client: &http.Client{}}
	}
	return &preload.FileFetcher{Root: cfg.AssetDir}
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
