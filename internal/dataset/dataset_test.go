package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const sample = `Income,Loan_Amount,loan_duration_months,age,employment_type,credit_score,previous_defaults,default,notes
5000,15000,36,34,Salaried,710,0,0,first
2000,60000,24.0,23,Unemployed,520,2,1,
`

func TestRead(t *testing.T) {
	examples, err := Read(strings.NewReader(sample), "")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	want := []Example{
		{
			Line: 2,
			Applicant: domain.ApplicantRecord{
				Income: 5000, LoanAmount: 15000, LoanDurationMonths: 36, Age: 34,
				EmploymentType: domain.EmploymentSalaried, CreditScore: 710,
			},
			Label: 0,
		},
		{
			Line: 3,
			Applicant: domain.ApplicantRecord{
				Income: 2000, LoanAmount: 60000, LoanDurationMonths: 24, Age: 23,
				EmploymentType: domain.EmploymentUnemployed, CreditScore: 520, PreviousDefaults: 2,
			},
			Label: 1,
		},
	}
	if diff := cmp.Diff(want, examples); diff != "" {
		t.Errorf("examples mismatch (-want +got):\n%s", diff)
	}
}

func TestReadErrors(t *testing.T) {
	header := "income,loan_amount,loan_duration_months,age,employment_type,credit_score,previous_defaults,default\n"

	tests := []struct {
		name   string
		input  string
		target string
		want   string
	}{
		{"Empty", "", "", "header"},
		{"MissingTarget", header, "defaulted", "defaulted"},
		{"MissingColumn", "income,default\n1,0\n", "", "loan_amount"},
		{"BadNumber", header + "abc,1,1,30,Other,600,0,0\n", "", "line 2: column income"},
		{"FractionalInt", header + "1,1,1.5,30,Other,600,0,0\n", "", "not an integer"},
		{"BadLabel", header + "1,1,1,30,Other,600,0,maybe\n", "", "not 0 or 1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.input), tc.target)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("expected %q in %v", tc.want, err)
			}
		})
	}

	_, err := Read(strings.NewReader("income\n1\n"), "")
	if !errors.Is(err, domain.ErrSchemaMismatch) {
		t.Errorf("expected ErrSchemaMismatch for missing columns, got %v", err)
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "applicants.csv")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}

	examples, err := ReadFile(path, DefaultTarget)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(examples) != 2 {
		t.Errorf("expected 2 examples, got %d", len(examples))
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.csv"), ""); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
