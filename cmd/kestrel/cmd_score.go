package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var scoreFlags struct {
	applicant domain.ApplicantRecord
	employ    string
	explain   bool
	asJSON    bool
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score one applicant and explain the decision",
	Args:  cobra.NoArgs,
	RunE:  runScore,
}

func init() {
	f := scoreCmd.Flags()
	a := &scoreFlags.applicant
	f.Float64Var(&a.Income, "income", 0, "monthly income (required)")
	f.Float64Var(&a.LoanAmount, "loan-amount", 0, "requested principal (required)")
	f.IntVar(&a.LoanDurationMonths, "duration", 0, "loan duration in months (required)")
	f.IntVar(&a.Age, "age", 0, "applicant age in years (required)")
	f.IntVar(&a.CreditScore, "credit-score", 0, "credit score (required)")
	f.IntVar(&a.PreviousDefaults, "previous-defaults", 0, "number of previous defaults")
	f.StringVar(&scoreFlags.employ, "employment", string(domain.EmploymentSalaried), "employment type")
	f.BoolVar(&scoreFlags.explain, "explain", true, "attach a feature attribution")
	f.BoolVar(&scoreFlags.asJSON, "json", false, "print the assessment as JSON")

	for _, name := range []string{"income", "loan-amount", "duration", "age", "credit-score"} {
		_ = scoreCmd.MarkFlagRequired(name)
	}
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	s, err := openService(ctx, nil)
	if err != nil {
		return err
	}

	rec := scoreFlags.applicant
	rec.EmploymentType = domain.EmploymentType(scoreFlags.employ)

	a, err := s.Assess(ctx, rec, assess.Options{Explain: scoreFlags.explain})
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("applicant rejected by %s: %s", ve.Rule, ve.Message)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if scoreFlags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}
	printAssessment(out, a)
	return nil
}

func printAssessment(w io.Writer, a *domain.Assessment) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("Assessment " + a.ID)
	t.AppendRows([]table.Row{
		{"Decision", a.Prediction.Label},
		{"Default probability", fmt.Sprintf("%.4f", a.Prediction.Probability)},
		{"Debt to income", fmt.Sprintf("%.4f", a.Engineered.DebtToIncome)},
		{"Monthly payment", fmt.Sprintf("%.2f", a.Engineered.MonthlyPayment)},
		{"Model version", a.Metadata.ModelVersion},
		{"Explanation", a.Explanation},
	})
	for _, warn := range a.Warnings {
		t.AppendRow(table.Row{"Warning", warn})
	}
	t.Render()

	if a.Rendered != "" {
		fmt.Fprintln(w, a.Rendered)
	}
}
