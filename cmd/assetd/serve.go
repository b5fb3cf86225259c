package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"assetd/internal/httpapi"
	"assetd/internal/manifest"
	"assetd/internal/service"
)

const shutdownGrace = 5 * time.Second

func newServeCmd(o *options) *cobra.Command {
	defaultAddr := ":8080"
	if v := os.Getenv("ASSETD_ADDR"); v != "" {
		defaultAddr = v
	}
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP API",
		Example: "  assetd serve --manifest manifest.json --asset-base-url https://cdn.example/models\n  assetd serve --asset-dir ~/assets --warm avatar-low,avatar-medium",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", defaultAddr, "HTTP listen address, e.g. :8080")
	f.IntVar(&o.budgetMB, "budget-mb", 0, "Memory budget of the preload cache in MB (0=unlimited)")
	f.StringVar(&o.warm, "warm", "", "Comma-separated model ids to preload at startup")
	f.StringVar(&o.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins (enables CORS)")
	f.StringVar(&o.httpLog, "http-log", "", "Per-request log level: off|error|info|debug")
	f.DurationVar(&o.progressiveTimeout, "progressive-timeout", 0, "Deadline of one /progressive stream (0 disables)")
	return cmd
}

func runServe(cmd *cobra.Command, o *options) error {
	cfg, err := resolveConfig(cmd, o)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel, o.logFormat, os.Stderr)
	if err != nil {
		return err
	}

	snap, err := loadManifest(cfg)
	if err != nil {
		return err
	}
	for id, cerr := range snap.ValidateChains() {
		log.Warn().Str("model", id).Err(cerr).Msg("manifest event=invalid_chain")
	}
	store := manifest.NewStore(snap)
	svc := service.New(service.Config{
		Manifest:     store,
		Fetcher:      newFetcher(cfg),
		BudgetMB:     cfg.BudgetMB,
		FetchTimeout: cfg.FetchTimeout.Std(),
		WarmParallel: cfg.MaxConcurrentWarm,
		Recovery:     cfg.RecoveryConfig(),
		Logger:       &log,
	})
	defer svc.Close()

	httpapi.SetLogger(log)
	if o.httpLog != "" {
		httpapi.SetDefaultLogLevel(o.httpLog)
	}
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins,
		[]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		[]string{"Content-Type", "X-Log-Level", "X-Request-Id"})
	httpapi.SetProgressiveTimeout(o.progressiveTimeout)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	httpapi.SetBaseContext(ctx)

	if cfg.ManifestPath != "" {
		go func() {
			if err := manifest.Watch(ctx, cfg.ManifestPath, store, log, svc.ManifestReloaded); err != nil {
				log.Error().Err(err).Msg("manifest event=watch_failed")
			}
		}()
	}
	go svc.Warm(ctx, cfg.Warm)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("manifest", snap.Version()).Int("models", snap.Len()).Msg("assetd event=listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("assetd event=shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("assetd event=shutdown_error")
	}
	return nil
}
