package validation

import (
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func validApplicant() domain.ApplicantRecord {
	return domain.ApplicantRecord{
		Income:             5000,
		LoanAmount:         15000,
		LoanDurationMonths: 36,
		Age:                34,
		EmploymentType:     domain.EmploymentSalaried,
		CreditScore:        710,
		PreviousDefaults:   0,
	}
}

func TestValidator(t *testing.T) {
	v, err := New()
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*domain.ApplicantRecord)
		rule   string
	}{
		{"Valid", func(r *domain.ApplicantRecord) {}, ""},
		{"ZeroIncome", func(r *domain.ApplicantRecord) { r.Income = 0; r.LoanAmount = 1000 }, domain.RuleIncomePositive},
		{"NegativeIncome", func(r *domain.ApplicantRecord) { r.Income = -10 }, domain.RuleIncomePositive},
		{"NaNIncome", func(r *domain.ApplicantRecord) { r.Income = math.NaN() }, domain.RuleIncomePositive},
		{"ZeroLoan", func(r *domain.ApplicantRecord) { r.LoanAmount = 0 }, domain.RuleLoanAmountPositive},
		{"CreditScoreTooHigh", func(r *domain.ApplicantRecord) { r.CreditScore = 900 }, domain.RuleCreditScoreRange},
		{"CreditScoreTooLow", func(r *domain.ApplicantRecord) { r.CreditScore = 299 }, domain.RuleCreditScoreRange},
		{"CreditScoreLowerBound", func(r *domain.ApplicantRecord) { r.CreditScore = 300 }, ""},
		{"CreditScoreUpperBound", func(r *domain.ApplicantRecord) { r.CreditScore = 850 }, ""},
		{"Underage", func(r *domain.ApplicantRecord) { r.Age = 17 }, domain.RuleAgeRange},
		{"TooOld", func(r *domain.ApplicantRecord) { r.Age = 121 }, domain.RuleAgeRange},
		{"AgeBounds", func(r *domain.ApplicantRecord) { r.Age = 120 }, ""},
		{"ZeroDuration", func(r *domain.ApplicantRecord) { r.LoanDurationMonths = 0 }, domain.RuleLoanDurationMin},
		{"Unaffordable", func(r *domain.ApplicantRecord) { r.Income = 100; r.LoanAmount = 10_000_000 }, domain.RuleAffordability},
		{"AffordabilityBound", func(r *domain.ApplicantRecord) { r.Income = 100; r.LoanAmount = 99_999 }, ""},
		{"NegativeDefaults", func(r *domain.ApplicantRecord) { r.PreviousDefaults = -1 }, domain.RulePreviousDefaultsNonNeg},
		{"UnknownEmployment", func(r *domain.ApplicantRecord) { r.EmploymentType = "Astronaut" }, domain.RuleEmploymentTypeKnown},
		// Several violations: the first rule in order wins
		{"IncomeBeforeCreditScore", func(r *domain.ApplicantRecord) { r.Income = 0; r.CreditScore = 200 }, domain.RuleIncomePositive},
		{"CreditScoreBeforeAge", func(r *domain.ApplicantRecord) { r.CreditScore = 900; r.Age = 10 }, domain.RuleCreditScoreRange},
		{"AgeBeforeAffordability", func(r *domain.ApplicantRecord) { r.Age = 10; r.Income = 1; r.LoanAmount = 1e9 }, domain.RuleAgeRange},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := validApplicant()
			tc.mutate(&rec)

			verdict, err := v.Validate(rec)
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}

			if tc.rule == "" {
				if !verdict.Valid {
					t.Errorf("expected valid, got rejection %s: %s", verdict.Rule, verdict.Reason)
				}
				return
			}

			if verdict.Valid {
				t.Fatalf("expected rejection by %s, got valid", tc.rule)
			}
			if verdict.Rule != tc.rule {
				t.Errorf("expected rule %s, got %s (%s)", tc.rule, verdict.Rule, verdict.Reason)
			}
			if verdict.Reason == "" {
				t.Error("expected a non-empty reason")
			}
		})
	}
}

func TestVerdictErr(t *testing.T) {
	v, _ := New()

	rec := validApplicant()
	rec.CreditScore = 900
	verdict, _ := v.Validate(rec)

	var vErr *domain.ValidationError
	if !errors.As(verdict.Err(), &vErr) {
		t.Fatalf("expected *ValidationError, got %T", verdict.Err())
	}
	if vErr.Rule != domain.RuleCreditScoreRange {
		t.Errorf("expected rule %s, got %s", domain.RuleCreditScoreRange, vErr.Rule)
	}

	ok, _ := v.Validate(validApplicant())
	if ok.Err() != nil {
		t.Errorf("expected nil error for valid verdict, got %v", ok.Err())
	}
}

func TestNewValidatorRejectsBadRules(t *testing.T) {
	t.Run("NonBoolExpression", func(t *testing.T) {
		_, err := NewValidator([]domain.ValidationRule{
			{ID: "score", Expression: "income * 2.0", Message: "m"},
		})
		if err == nil {
			t.Error("expected error for non-bool expression")
		}
	})

	t.Run("SyntaxError", func(t *testing.T) {
		_, err := NewValidator([]domain.ValidationRule{
			{ID: "broken", Expression: "income >", Message: "m"},
		})
		if err == nil {
			t.Error("expected compile error")
		}
	})

	t.Run("DuplicateID", func(t *testing.T) {
		_, err := NewValidator([]domain.ValidationRule{
			{ID: "a", Expression: "true", Message: "m"},
			{ID: "a", Expression: "true", Message: "m"},
		})
		if err == nil {
			t.Error("expected error for duplicate rule id")
		}
	})
}

func TestRulesOrder(t *testing.T) {
	v, _ := New()
	rules := v.Rules()

	want := []string{
		domain.RuleIncomePositive,
		domain.RuleLoanAmountPositive,
		domain.RuleCreditScoreRange,
		domain.RuleAgeRange,
		domain.RuleLoanDurationMin,
		domain.RuleAffordability,
	}
	for i, id := range want {
		if rules[i].ID != id {
			t.Errorf("rule %d: expected %s, got %s", i, id, rules[i].ID)
		}
	}
}
