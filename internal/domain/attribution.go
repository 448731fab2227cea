package domain

import (
	"sort"
	"time"
)

// OutputSpace is the scale attribution values are expressed in.
type OutputSpace string

const (
	SpaceProbability OutputSpace = "probability"
	SpaceLogOdds     OutputSpace = "log_odds"
)

// AttributionMethod identifies how contributions were computed.
type AttributionMethod string

const (
	MethodTreeExact AttributionMethod = "tree_exact"
	MethodSampling  AttributionMethod = "sampling"
)

// FeatureContribution is the signed contribution of one processed feature.
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// AttributionSet decomposes one prediction into per-feature contributions.
// Baseline + Sum() approximates Output; the approximation is exact for
// tree-based attribution and sampled otherwise.
type AttributionSet struct {
	Baseline      float64               `json:"baseline"`
	Output        float64               `json:"output"`
	Space         OutputSpace           `json:"space"`
	Method        AttributionMethod     `json:"method"`
	Contributions []FeatureContribution `json:"contributions"`
}

// Sum returns the total of all contributions.
func (a *AttributionSet) Sum() float64 {
	var total float64
	for _, c := range a.Contributions {
		total += c.Contribution
	}
	return total
}

// Top returns the n contributions with the largest magnitude.
// The receiver is not modified.
func (a *AttributionSet) Top(n int) []FeatureContribution {
	sorted := make([]FeatureContribution, len(a.Contributions))
	copy(sorted, a.Contributions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return abs(sorted[i].Contribution) > abs(sorted[j].Contribution)
	})
	if n > 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// Grouped folds processed columns back into their source fields.
// groups maps a processed feature name to its source field; features
// missing from groups keep their own name. Values of folded features are
// dropped since a one-hot group has no single value.
func (a *AttributionSet) Grouped(groups map[string]string) *AttributionSet {
	out := &AttributionSet{
		Baseline: a.Baseline,
		Output:   a.Output,
		Space:    a.Space,
		Method:   a.Method,
	}
	index := make(map[string]int)
	for _, c := range a.Contributions {
		name := c.Feature
		folded := false
		if src, ok := groups[c.Feature]; ok && src != c.Feature {
			name = src
			folded = true
		}
		if i, ok := index[name]; ok {
			out.Contributions[i].Contribution += c.Contribution
			out.Contributions[i].Value = 0
			continue
		}
		fc := FeatureContribution{Feature: name, Value: c.Value, Contribution: c.Contribution}
		if folded {
			fc.Value = 0
		}
		index[name] = len(out.Contributions)
		out.Contributions = append(out.Contributions, fc)
	}
	return out
}

// ImportanceEntry is one row of a global importance ranking.
type ImportanceEntry struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"score"`
}

// GlobalImportance ranks features by mean absolute contribution across a
// reference population.
type GlobalImportance struct {
	ModelVersion string            `json:"modelVersion"`
	Method       AttributionMethod `json:"method"`
	SampleSize   int               `json:"sampleSize"`
	Ranking      []ImportanceEntry `json:"ranking"`
	ComputedAt   time.Time         `json:"computedAt"`
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
