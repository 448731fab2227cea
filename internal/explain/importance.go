package explain

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// GlobalImportance ranks features by mean absolute contribution of the
// primary strategy over ref. Rows are explained by at most workers
// goroutines. Ties are ordered by feature name.
//
// The fallback is never used here: mixing exact log-odds and sampled
// probability contributions in one ranking would be meaningless.
func (e *Explainer) GlobalImportance(ctx context.Context, ref *domain.ReferencePopulation, workers int) (*domain.GlobalImportance, error) {
	if ref.Len() == 0 {
		return nil, domain.ErrNoReference
	}
	if len(ref.FeatureNames) > 0 && !sameNames(ref.FeatureNames, e.names) {
		return nil, fmt.Errorf("%w: reference features differ from model features", domain.ErrSchemaMismatch)
	}
	if workers <= 0 {
		workers = 1
	}

	contribs := make([][]float64, ref.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, row := range ref.Rows {
		g.Go(func() error {
			attr, err := e.primary.Attribute(gctx, row)
			if err != nil {
				return fmt.Errorf("reference row %d: %w", i, err)
			}
			vals := make([]float64, len(attr.Contributions))
			for j, c := range attr.Contributions {
				vals[j] = math.Abs(c.Contribution)
			}
			contribs[i] = vals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranking := make([]domain.ImportanceEntry, len(e.names))
	for j, name := range e.names {
		var total float64
		for _, vals := range contribs {
			total += vals[j]
		}
		ranking[j] = domain.ImportanceEntry{Feature: name, Score: total / float64(len(contribs))}
	}
	sort.Slice(ranking, func(a, b int) bool {
		if ranking[a].Score != ranking[b].Score {
			return ranking[a].Score > ranking[b].Score
		}
		return ranking[a].Feature < ranking[b].Feature
	})

	return &domain.GlobalImportance{
		Method:     e.primary.Method(),
		SampleSize: ref.Len(),
		Ranking:    ranking,
		ComputedAt: time.Now().UTC(),
	}, nil
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
