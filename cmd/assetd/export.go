package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd(o *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the manifest as JSON",
		Long: "Loads the manifest (or scans --asset-dir) and writes it as the canonical\n" +
			"JSON document, to stdout or atomically to --out.",
		Example: "  assetd export --asset-dir ./assets --out manifest.json\n  assetd export --manifest manifest.toml",
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
			if out == "" {
				return snap.Export(cmd.OutOrStdout())
			}
			if err := snap.ExportFile(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d models to %s\n", snap.Len(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}
