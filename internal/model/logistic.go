package model

import "fmt"

// LogisticRegression is a linear model with a logistic link. It exposes no
// tree structure and is explained by sampling.
type LogisticRegression struct {
	header
	coef      []float64
	intercept float64
}

func newLogisticRegression(h header, spec Spec) (*LogisticRegression, error) {
	if len(spec.Coef) != h.numFeatures {
		return nil, fmt.Errorf("logistic regression has %d coefficients for %d features", len(spec.Coef), h.numFeatures)
	}
	return &LogisticRegression{
		header:    h,
		coef:      spec.Coef,
		intercept: spec.Intercept,
	}, nil
}

// PredictProba returns the sigmoid of the linear margin.
func (l *LogisticRegression) PredictProba(x []float64) (float64, error) {
	if err := l.checkInput(x); err != nil {
		return 0, err
	}
	margin := l.intercept
	for i, w := range l.coef {
		margin += w * x[i]
	}
	return Sigmoid(margin), nil
}
