// Package evaluation measures a loaded model against a labelled dataset.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/dataset"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrSingleClass is returned by AUC when the labels hold one class only.
var ErrSingleClass = errors.New("ROC AUC needs both classes")

// Confusion counts decisions with HIGH_RISK as the positive class.
type Confusion struct {
	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalseNegatives int `json:"false_negatives"`
}

// Total returns the number of counted decisions.
func (c Confusion) Total() int {
	return c.TruePositives + c.FalsePositives + c.TrueNegatives + c.FalseNegatives
}

// ClassMetrics holds the per-class scores of a classification report.
type ClassMetrics struct {
	Class     int     `json:"class"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report is the outcome of one evaluation run.
type Report struct {
	Scored    int            `json:"scored"`
	Rejected  int            `json:"rejected"`
	AUC       float64        `json:"auc"`
	Accuracy  float64        `json:"accuracy"`
	Confusion Confusion      `json:"confusion"`
	Classes   []ClassMetrics `json:"classes"`
}

// Run scores every example through the service without explanations.
// Examples rejected by validation are counted and left out of the metrics.
func Run(ctx context.Context, s *assess.Service, examples []dataset.Example) (*Report, error) {
	labels := make([]int, 0, len(examples))
	probs := make([]float64, 0, len(examples))
	rejected := 0

	for _, ex := range examples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := s.Assess(ctx, ex.Applicant, assess.Options{})
		if err != nil {
			if assess.IsRejection(err) {
				rejected++
				continue
			}
			return nil, fmt.Errorf("line %d: %w", ex.Line, err)
		}
		labels = append(labels, ex.Label)
		probs = append(probs, a.Prediction.Probability)
	}

	r, err := Evaluate(labels, probs)
	if err != nil {
		return nil, err
	}
	r.Rejected = rejected
	return r, nil
}

// Evaluate computes the report for paired labels and default probabilities.
// Decisions use the same strict threshold as live scoring.
func Evaluate(labels []int, probs []float64) (*Report, error) {
	if len(labels) != len(probs) {
		return nil, fmt.Errorf("%d labels for %d probabilities", len(labels), len(probs))
	}
	if len(labels) == 0 {
		return nil, errors.New("nothing to evaluate")
	}

	var c Confusion
	for i, p := range probs {
		predicted := domain.LabelFor(p) == domain.LabelHighRisk
		switch {
		case labels[i] == 1 && predicted:
			c.TruePositives++
		case labels[i] == 1:
			c.FalseNegatives++
		case predicted:
			c.FalsePositives++
		default:
			c.TrueNegatives++
		}
	}

	auc, err := AUC(labels, probs)
	if err != nil {
		return nil, err
	}

	return &Report{
		Scored:    len(labels),
		AUC:       auc,
		Accuracy:  ratio(c.TruePositives+c.TrueNegatives, c.Total()),
		Confusion: c,
		Classes: []ClassMetrics{
			classMetrics(0, c.TrueNegatives, c.FalseNegatives, c.FalsePositives),
			classMetrics(1, c.TruePositives, c.FalsePositives, c.FalseNegatives),
		},
	}, nil
}

func classMetrics(class, tp, fp, fn int) ClassMetrics {
	precision := ratio(tp, tp+fp)
	recall := ratio(tp, tp+fn)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return ClassMetrics{
		Class:     class,
		Precision: precision,
		Recall:    recall,
		F1:        f1,
		Support:   tp + fn,
	}
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// AUC returns the area under the ROC curve using the rank-sum form.
// Tied scores share their average rank.
func AUC(labels []int, probs []float64) (float64, error) {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return probs[idx[a]] < probs[idx[b]] })

	var positives, negatives int
	var rankSum float64
	for i := 0; i < len(idx); {
		j := i
		for j < len(idx) && probs[idx[j]] == probs[idx[i]] {
			j++
		}
		// Ranks are 1-based; the tie group spans ranks i+1..j.
		rank := float64(i+1+j) / 2
		for _, k := range idx[i:j] {
			if labels[k] == 1 {
				positives++
				rankSum += rank
			} else {
				negatives++
			}
		}
		i = j
	}

	if positives == 0 || negatives == 0 {
		return 0, ErrSingleClass
	}
	p, n := float64(positives), float64(negatives)
	return (rankSum - p*(p+1)/2) / (p * n), nil
}

// Render writes the report as terminal tables.
func (r *Report) Render(w io.Writer) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleLight)
	summary.SetTitle("Evaluation")
	summary.AppendRows([]table.Row{
		{"Scored", r.Scored},
		{"Rejected", r.Rejected},
		{"ROC AUC", fmt.Sprintf("%.4f", r.AUC)},
		{"Accuracy", fmt.Sprintf("%.4f", r.Accuracy)},
	})
	summary.Render()

	confusion := table.NewWriter()
	confusion.SetOutputMirror(w)
	confusion.SetStyle(table.StyleLight)
	confusion.SetTitle("Confusion matrix")
	confusion.AppendHeader(table.Row{"Actual", "Predicted LOW_RISK", "Predicted HIGH_RISK"})
	confusion.AppendRows([]table.Row{
		{"0 (repaid)", r.Confusion.TrueNegatives, r.Confusion.FalsePositives},
		{"1 (default)", r.Confusion.FalseNegatives, r.Confusion.TruePositives},
	})
	confusion.Render()

	classes := table.NewWriter()
	classes.SetOutputMirror(w)
	classes.SetStyle(table.StyleLight)
	classes.SetTitle("Classification report")
	classes.AppendHeader(table.Row{"Class", "Precision", "Recall", "F1", "Support"})
	for _, c := range r.Classes {
		classes.AppendRow(table.Row{
			c.Class,
			fmt.Sprintf("%.4f", c.Precision),
			fmt.Sprintf("%.4f", c.Recall),
			fmt.Sprintf("%.4f", c.F1),
			c.Support,
		})
	}
	classes.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	classes.Render()
}
