// Package validation provides the CEL-Go based applicant validator.
package validation

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Validator rejects applicants outside plausible domain ranges.
// Rules run in order and the first failing rule is reported.
type Validator struct {
	env   *cel.Env
	rules []*compiledRule
}

type compiledRule struct {
	config  domain.ValidationRule
	program cel.Program
}

// DefaultRules returns the built-in checks in evaluation order.
func DefaultRules() []domain.ValidationRule {
	return []domain.ValidationRule{
		{
			ID:         domain.RuleIncomePositive,
			Expression: "income > 0.0",
			Message:    "income must be greater than 0",
		},
		{
			ID:         domain.RuleLoanAmountPositive,
			Expression: "loan_amount > 0.0",
			Message:    "loan amount must be greater than 0",
		},
		{
			ID:         domain.RuleCreditScoreRange,
			Expression: "credit_score >= min_credit_score && credit_score <= max_credit_score",
			Message:    fmt.Sprintf("credit score must be between %d and %d", domain.MinCreditScore, domain.MaxCreditScore),
		},
		{
			ID:         domain.RuleAgeRange,
			Expression: "age >= min_age && age <= max_age",
			Message:    fmt.Sprintf("age must be between %d and %d", domain.MinAge, domain.MaxAge),
		},
		{
			ID:         domain.RuleLoanDurationMin,
			Expression: "loan_duration_months >= min_duration",
			Message:    fmt.Sprintf("loan duration must be at least %d month", domain.MinDuration),
		},
		{
			ID:          domain.RuleAffordability,
			Description: "Out-of-distribution loan/income ratios produce meaningless probabilities",
			Expression:  "loan_amount / (income + epsilon) <= max_debt_to_income",
			Message:     fmt.Sprintf("loan amount exceeds %.0f times income", domain.MaxDebtToIncome),
		},
		{
			ID:         domain.RulePreviousDefaultsNonNeg,
			Expression: "previous_defaults >= 0",
			Message:    "previous defaults cannot be negative",
		},
		{
			ID:         domain.RuleEmploymentTypeKnown,
			Expression: "employment_type in employment_types",
			Message:    "employment type must be one of Salaried, Self-employed, Unemployed, Other",
		},
	}
}

// New creates a validator with DefaultRules.
func New() (*Validator, error) {
	return NewValidator(DefaultRules())
}

// NewValidator compiles rules in the given order.
func NewValidator(rules []domain.ValidationRule) (*Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("income", cel.DoubleType),
		cel.Variable("loan_amount", cel.DoubleType),
		cel.Variable("loan_duration_months", cel.IntType),
		cel.Variable("age", cel.IntType),
		cel.Variable("employment_type", cel.StringType),
		cel.Variable("credit_score", cel.IntType),
		cel.Variable("previous_defaults", cel.IntType),
		// Policy constants
		cel.Variable("epsilon", cel.DoubleType),
		cel.Variable("max_debt_to_income", cel.DoubleType),
		cel.Variable("min_credit_score", cel.IntType),
		cel.Variable("max_credit_score", cel.IntType),
		cel.Variable("min_age", cel.IntType),
		cel.Variable("max_age", cel.IntType),
		cel.Variable("min_duration", cel.IntType),
		cel.Variable("employment_types", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	v := &Validator{env: env}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate validation rule %s", r.ID)
		}
		seen[r.ID] = true

		compiled, err := v.compileRule(r)
		if err != nil {
			return nil, err
		}
		v.rules = append(v.rules, compiled)
	}

	return v, nil
}

// Validate runs every rule in order and stops at the first failure.
// The returned error is reserved for evaluation faults; a rejection is
// reported through the Verdict.
func (v *Validator) Validate(rec domain.ApplicantRecord) (domain.Verdict, error) {
	activation := activationFor(rec)

	for _, r := range v.rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			return domain.Verdict{}, fmt.Errorf("validation rule %s: %w", r.config.ID, err)
		}

		ok, isBool := out.(types.Bool)
		if !isBool {
			return domain.Verdict{}, fmt.Errorf("validation rule %s returned %s, want bool", r.config.ID, out.Type())
		}
		if !bool(ok) {
			return domain.Verdict{
				Valid:  false,
				Rule:   r.config.ID,
				Reason: r.config.Message,
			}, nil
		}
	}

	return domain.Verdict{Valid: true}, nil
}

// Rules returns the configured rules in evaluation order.
func (v *Validator) Rules() []domain.ValidationRule {
	out := make([]domain.ValidationRule, len(v.rules))
	for i, r := range v.rules {
		out[i] = r.config
	}
	return out
}

func (v *Validator) compileRule(r domain.ValidationRule) (*compiledRule, error) {
	if r.ID == "" || r.Expression == "" || r.Message == "" {
		return nil, fmt.Errorf("validation rule requires id, expression and message")
	}

	ast, issues := v.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", r.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", r.ID, ast.OutputType())
	}

	program, err := v.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", r.ID, err)
	}

	return &compiledRule{config: r, program: program}, nil
}

func activationFor(rec domain.ApplicantRecord) map[string]any {
	known := domain.EmploymentTypes()
	employmentTypes := make([]string, len(known))
	for i, t := range known {
		employmentTypes[i] = string(t)
	}

	return map[string]any{
		"income":               rec.Income,
		"loan_amount":          rec.LoanAmount,
		"loan_duration_months": int64(rec.LoanDurationMonths),
		"age":                  int64(rec.Age),
		"employment_type":      string(rec.EmploymentType),
		"credit_score":         int64(rec.CreditScore),
		"previous_defaults":    int64(rec.PreviousDefaults),
		"epsilon":              domain.Epsilon,
		"max_debt_to_income":   domain.MaxDebtToIncome,
		"min_credit_score":     int64(domain.MinCreditScore),
		"max_credit_score":     int64(domain.MaxCreditScore),
		"min_age":              int64(domain.MinAge),
		"max_age":              int64(domain.MaxAge),
		"min_duration":         int64(domain.MinDuration),
		"employment_types":     employmentTypes,
	}
}
