// Package domain defines the core interfaces and types for Kestrel.
package domain

// Policy constants shared by validation, feature engineering and scoring.
const (
	// Epsilon guards the engineered ratios against division by zero.
	Epsilon = 1e-6

	// DecisionThreshold separates LOW_RISK from HIGH_RISK.
	// A probability equal to the threshold is LOW_RISK.
	DecisionThreshold = 0.5

	// MaxDebtToIncome is the affordability sanity bound on loan/income.
	MaxDebtToIncome = 1000.0
)

// Credit score and age bounds accepted by the validator.
const (
	MinCreditScore = 300
	MaxCreditScore = 850
	MinAge         = 18
	MaxAge         = 120
	MinDuration    = 1
)

// EmploymentType is the applicant's employment category.
type EmploymentType string

const (
	EmploymentSalaried     EmploymentType = "Salaried"
	EmploymentSelfEmployed EmploymentType = "Self-employed"
	EmploymentUnemployed   EmploymentType = "Unemployed"
	EmploymentOther        EmploymentType = "Other"
)

// EmploymentTypes returns the fixed categorical set in display order.
func EmploymentTypes() []EmploymentType {
	return []EmploymentType{
		EmploymentSalaried,
		EmploymentSelfEmployed,
		EmploymentUnemployed,
		EmploymentOther,
	}
}

// Valid reports whether t is one of the known employment types.
func (t EmploymentType) Valid() bool {
	for _, known := range EmploymentTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// Column names of an engineered applicant record.
const (
	FieldIncome             = "income"
	FieldEmploymentType     = "employment_type"
	FieldLoanAmount         = "loan_amount"
	FieldLoanDurationMonths = "loan_duration_months"
	FieldCreditScore        = "credit_score"
	FieldAge                = "age"
	FieldPreviousDefaults   = "previous_defaults"
	FieldDebtToIncome       = "debt_to_income"
	FieldMonthlyPayment     = "monthly_payment"
)

// ApplicantRecord is the raw applicant input of one scoring request.
type ApplicantRecord struct {
	Income             float64        `json:"income" yaml:"income"`
	LoanAmount         float64        `json:"loan_amount" yaml:"loan_amount"`
	LoanDurationMonths int            `json:"loan_duration_months" yaml:"loan_duration_months"`
	Age                int            `json:"age" yaml:"age"`
	EmploymentType     EmploymentType `json:"employment_type" yaml:"employment_type"`
	CreditScore        int            `json:"credit_score" yaml:"credit_score"`
	PreviousDefaults   int            `json:"previous_defaults" yaml:"previous_defaults"`
}

// EngineeredRecord is an ApplicantRecord with its derived ratios.
// It is always recomputed from the applicant and never stored on its own.
type EngineeredRecord struct {
	ApplicantRecord
	DebtToIncome   float64 `json:"debt_to_income"`
	MonthlyPayment float64 `json:"monthly_payment"`
}

// FieldNames returns the column names carried by an engineered record.
func (r EngineeredRecord) FieldNames() []string {
	return []string{
		FieldIncome,
		FieldEmploymentType,
		FieldLoanAmount,
		FieldLoanDurationMonths,
		FieldCreditScore,
		FieldAge,
		FieldPreviousDefaults,
		FieldDebtToIncome,
		FieldMonthlyPayment,
	}
}

// Numeric returns the value of a numeric column.
func (r EngineeredRecord) Numeric(name string) (float64, bool) {
	switch name {
	case FieldIncome:
		return r.Income, true
	case FieldLoanAmount:
		return r.LoanAmount, true
	case FieldLoanDurationMonths:
		return float64(r.LoanDurationMonths), true
	case FieldCreditScore:
		return float64(r.CreditScore), true
	case FieldAge:
		return float64(r.Age), true
	case FieldPreviousDefaults:
		return float64(r.PreviousDefaults), true
	case FieldDebtToIncome:
		return r.DebtToIncome, true
	case FieldMonthlyPayment:
		return r.MonthlyPayment, true
	}
	return 0, false
}

// Categorical returns the value of a categorical column.
func (r EngineeredRecord) Categorical(name string) (string, bool) {
	if name == FieldEmploymentType {
		return string(r.EmploymentType), true
	}
	return "", false
}
