package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"assetd/internal/manifest"
	"assetd/internal/service"
)

func newValidateCmd(o *options) *cobra.Command {
	var fetch bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check every fallback chain of the manifest",
		Long: "Loads the manifest and walks the fallback chain of every model, reporting\n" +
			"broken references and cycles. With --fetch each asset is also downloaded\n" +
			"once to verify its format and checksum.",
		Example: "  assetd validate --manifest manifest.yaml\n  assetd validate --manifest manifest.json --asset-dir ./assets --fetch",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, o)
			if err != nil {
				return err
			}
			snap, err := loadManifest(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			problems := snap.ValidateChains()

			if fetch {
				if cfg.AssetBaseURL == "" && cfg.AssetDir == "" {
					return fmt.Errorf("--fetch needs --asset-dir or --asset-base-url")
				}
				log, err := newLogger(cfg.LogLevel, o.logFormat, os.Stderr)
				if err != nil {
					return err
				}
				svc := service.New(service.Config{
					Manifest:     manifest.NewStore(snap),
					Fetcher:      newFetcher(cfg),
					FetchTimeout: cfg.FetchTimeout.Std(),
					WarmParallel: cfg.MaxConcurrentWarm,
					Logger:       &log,
				})
				defer svc.Close()
				ids := make([]string, 0, snap.Len())
				for _, d := range snap.Descriptors() {
					ids = append(ids, d.ID)
				}
				for id, ferr := range svc.Warm(cmd.Context(), ids) {
					if _, seen := problems[id]; !seen {
						problems[id] = ferr
					}
				}
			}

			ids := make([]string, 0, len(problems))
			for id := range problems {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(out, "FAIL %s: %v\n", id, problems[id])
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d of %d models invalid", len(problems), snap.Len())
			}
			fmt.Fprintf(out, "ok: %d models, version %s\n", snap.Len(), snap.Version())
			return nil
		},
	}
	cmd.Flags().BoolVar(&fetch, "fetch", false, "Download every asset and verify format and checksum")
	return cmd
}
