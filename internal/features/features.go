// Package features derives engineered ratios from raw applicant records.
package features

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engineer returns rec with debt_to_income and monthly_payment appended.
// The raw fields are copied unchanged. Both ratios use an epsilon-guarded
// denominator so zero income or duration yields a large finite value.
func Engineer(rec domain.ApplicantRecord) domain.EngineeredRecord {
	return domain.EngineeredRecord{
		ApplicantRecord: rec,
		DebtToIncome:    DebtToIncome(rec.LoanAmount, rec.Income),
		MonthlyPayment:  MonthlyPayment(rec.LoanAmount, rec.LoanDurationMonths),
	}
}

// EngineerBatch applies Engineer to every record independently.
// No statistic is shared across the batch.
func EngineerBatch(recs []domain.ApplicantRecord) []domain.EngineeredRecord {
	out := make([]domain.EngineeredRecord, len(recs))
	for i, rec := range recs {
		out[i] = Engineer(rec)
	}
	return out
}

// DebtToIncome computes loan_amount / (income + epsilon).
func DebtToIncome(loanAmount, income float64) float64 {
	return loanAmount / (income + domain.Epsilon)
}

// MonthlyPayment computes loan_amount / (loan_duration_months + epsilon).
func MonthlyPayment(loanAmount float64, durationMonths int) float64 {
	return loanAmount / (float64(durationMonths) + domain.Epsilon)
}
