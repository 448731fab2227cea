package domain

// RiskLabel is the binary decision derived from a default probability.
type RiskLabel string

const (
	LabelLowRisk  RiskLabel = "LOW_RISK"
	LabelHighRisk RiskLabel = "HIGH_RISK"
)

// Prediction is the output of the inference engine for one applicant.
type Prediction struct {
	Probability float64   `json:"probability"`
	Label       RiskLabel `json:"label"`
}

// LabelFor maps a probability to a label. The comparison is strict:
// a probability exactly at DecisionThreshold is LOW_RISK.
func LabelFor(probability float64) RiskLabel {
	if probability > DecisionThreshold {
		return LabelHighRisk
	}
	return LabelLowRisk
}

// NewPrediction builds a Prediction with its label.
func NewPrediction(probability float64) Prediction {
	return Prediction{
		Probability: probability,
		Label:       LabelFor(probability),
	}
}
