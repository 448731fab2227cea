package explain

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// Defaults for the sampling strategy.
const (
	DefaultPermutations  = 64
	DefaultMaxBackground = 32
)

// SamplingConfig tunes the sampling strategy.
type SamplingConfig struct {
	// Permutations is the number of random feature orderings per instance.
	Permutations int

	// MaxBackground caps the background rows; larger sets are thinned
	// with an even stride.
	MaxBackground int

	// Seed makes every Attribute call reproducible.
	Seed uint64
}

// Sampling estimates Shapley values in probability space by averaging
// marginal contributions over random feature orderings. Features outside
// the coalition take their values from background rows, so it works for
// any classifier.
type Sampling struct {
	classifier model.Classifier
	names      []string
	background [][]float64
	baseline   float64
	cfg        SamplingConfig
}

// NewSampling builds the sampling strategy over background. The baseline
// is the mean predicted probability across background.
func NewSampling(c model.Classifier, names []string, background [][]float64, cfg SamplingConfig) (*Sampling, error) {
	if cfg.Permutations <= 0 {
		cfg.Permutations = DefaultPermutations
	}
	if cfg.MaxBackground <= 0 {
		cfg.MaxBackground = DefaultMaxBackground
	}
	if len(names) != c.NumFeatures() {
		return nil, fmt.Errorf("%w: %d feature names for %d features", domain.ErrSchemaMismatch, len(names), c.NumFeatures())
	}
	if len(background) == 0 {
		return nil, fmt.Errorf("sampling attribution needs at least one background row")
	}

	bg := thin(background, cfg.MaxBackground)
	var baseline float64
	for i, row := range bg {
		if len(row) != c.NumFeatures() {
			return nil, fmt.Errorf("%w: background row %d has %d features, want %d",
				domain.ErrSchemaMismatch, i, len(row), c.NumFeatures())
		}
		p, err := c.PredictProba(row)
		if err != nil {
			return nil, fmt.Errorf("background row %d: %w", i, err)
		}
		baseline += p
	}
	baseline /= float64(len(bg))

	return &Sampling{
		classifier: c,
		names:      names,
		background: bg,
		baseline:   baseline,
		cfg:        cfg,
	}, nil
}

// Method implements Strategy.
func (s *Sampling) Method() domain.AttributionMethod {
	return domain.MethodSampling
}

// Baseline returns the mean probability over the background.
func (s *Sampling) Baseline() float64 {
	return s.baseline
}

// Attribute implements Strategy. Each ordering adds the features of x one
// at a time to every background row, so the contributions of one ordering
// sum to f(x) minus the baseline and the average keeps that property.
func (s *Sampling) Attribute(ctx context.Context, x []float64) (*domain.AttributionSet, error) {
	n := s.classifier.NumFeatures()
	output, err := s.classifier.PredictProba(x)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrAttribution, err)
	}

	rng := rand.New(rand.NewPCG(s.cfg.Seed, s.cfg.Seed^0x9e3779b97f4a7c15))
	phi := make([]float64, n)
	z := make([]float64, n)

	for p := 0; p < s.cfg.Permutations; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		order := rng.Perm(n)

		for _, bg := range s.background {
			copy(z, bg)
			prev, err := s.classifier.PredictProba(z)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrAttribution, err)
			}
			for _, j := range order {
				z[j] = x[j]
				cur, err := s.classifier.PredictProba(z)
				if err != nil {
					return nil, fmt.Errorf("%w: %w", domain.ErrAttribution, err)
				}
				phi[j] += cur - prev
				prev = cur
			}
		}
	}

	samples := float64(s.cfg.Permutations * len(s.background))
	for j := range phi {
		phi[j] /= samples
	}

	attr := newAttribution(s.names, x, phi)
	attr.Baseline = s.baseline
	attr.Output = output
	attr.Space = domain.SpaceProbability
	attr.Method = domain.MethodSampling

	if err := checkSum(attr, sumTolerance); err != nil {
		return nil, err
	}
	return attr, nil
}

func thin(rows [][]float64, limit int) [][]float64 {
	if len(rows) <= limit {
		return rows
	}
	out := make([][]float64, 0, limit)
	stride := float64(len(rows)) / float64(limit)
	for i := 0; i < limit; i++ {
		out = append(out, rows[int(float64(i)*stride)])
	}
	return out
}
