package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/evaluation"
)

var evaluateFlags struct {
	csvPath string
	target  string
	asJSON  bool
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Measure the loaded model on a labelled CSV",
	Args:  cobra.NoArgs,
	RunE:  runEvaluate,
}

func init() {
	f := evaluateCmd.Flags()
	f.StringVar(&evaluateFlags.csvPath, "csv", "", "labelled applicant CSV (required)")
	f.StringVar(&evaluateFlags.target, "target", dataset.DefaultTarget, "label column")
	f.BoolVar(&evaluateFlags.asJSON, "json", false, "print the report as JSON")

	_ = evaluateCmd.MarkFlagRequired("csv")
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	examples, err := dataset.ReadFile(evaluateFlags.csvPath, evaluateFlags.target)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", evaluateFlags.csvPath, err)
	}

	s, err := openService(ctx, nil)
	if err != nil {
		return err
	}

	report, err := evaluation.Run(ctx, s, examples)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if evaluateFlags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	report.Render(out)
	return nil
}
