package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/artifact"
)

var manifestFlags struct {
	version string
}

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Checksum exported artifacts and write their manifest",
	Args:  cobra.NoArgs,
	RunE:  runManifest,
}

func init() {
	f := manifestCmd.Flags()
	f.StringVar(&manifestFlags.version, "model-version", "", "version recorded in the manifest (required)")
	_ = manifestCmd.MarkFlagRequired("model-version")
}

func runManifest(cmd *cobra.Command, _ []string) error {
	m, err := artifact.WriteManifest(cfg.Artifacts.Dir, cfg.Artifacts.Manifest, manifestFlags.version)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "manifest written for %s (run %s, %d files)\n", m.Version, m.RunID, len(m.Files))
	return nil
}
