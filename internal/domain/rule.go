package domain

// ValidationRule is one applicant check expressed in CEL.
// Expression must evaluate to true for a valid applicant.
type ValidationRule struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Expression  string `json:"expression" yaml:"expression"`
	Message     string `json:"message" yaml:"message"`
}

// Verdict is the outcome of validating one applicant.
// Rule and Reason are empty when Valid is true.
type Verdict struct {
	Valid  bool   `json:"valid"`
	Rule   string `json:"rule,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Err returns the rejection as a *ValidationError, or nil when valid.
func (v Verdict) Err() error {
	if v.Valid {
		return nil
	}
	return &ValidationError{Rule: v.Rule, Message: v.Reason}
}

// Validation rule identifiers, in evaluation order.
const (
	RuleIncomePositive         = "income_positive"
	RuleLoanAmountPositive     = "loan_amount_positive"
	RuleCreditScoreRange       = "credit_score_range"
	RuleAgeRange               = "age_range"
	RuleLoanDurationMin        = "loan_duration_min"
	RuleAffordability          = "affordability"
	RulePreviousDefaultsNonNeg = "previous_defaults_non_negative"
	RuleEmploymentTypeKnown    = "employment_type_known"
)
