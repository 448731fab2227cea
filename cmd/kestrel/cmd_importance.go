package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var importanceFlags struct {
	store bool
	top   int
}

var importanceCmd = &cobra.Command{
	Use:   "importance",
	Short: "Rank features by mean absolute contribution over the reference population",
	Args:  cobra.NoArgs,
	RunE:  runImportance,
}

func init() {
	f := importanceCmd.Flags()
	f.BoolVar(&importanceFlags.store, "store", true, "persist the ranking and warm the cache")
	f.IntVar(&importanceFlags.top, "top", 0, "rows to print (0 prints all)")
}

func runImportance(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	s, err := openService(ctx, nil)
	if err != nil {
		return err
	}

	gi, err := s.Importance(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute importance: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("Global importance (%s, %d rows, model %s)", gi.Method, gi.SampleSize, gi.ModelVersion))
	t.AppendHeader(table.Row{"#", "Feature", "Mean |contribution|"})
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})
	for i, e := range gi.Ranking {
		if importanceFlags.top > 0 && i >= importanceFlags.top {
			break
		}
		t.AppendRow(table.Row{i + 1, e.Feature, fmt.Sprintf("%.6f", e.Score)})
	}
	t.Render()

	if !importanceFlags.store {
		return nil
	}

	repo, err := openRepository()
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := registerModel(ctx, repo, s); err != nil {
		return err
	}
	if err := repo.SaveImportance(ctx, gi); err != nil {
		return fmt.Errorf("failed to store importance: %w", err)
	}

	slog.Info("importance stored", "model_version", gi.ModelVersion, "features", len(gi.Ranking))

	// A cache outage only delays the first API read; the repository holds
	// the ranking.
	if _, err := warmImportance(ctx, cfg.Cache, gi, cfg.Explain.ImportanceTTL); err != nil {
		slog.Warn("importance cache not warmed", "error", err)
	}
	return nil
}

// warmImportance writes gi to a shared cache. An in-process cache dies with
// this command, so it is skipped and warmed reports false.
func warmImportance(ctx context.Context, cc domain.CacheConfig, gi *domain.GlobalImportance, ttl time.Duration) (warmed bool, err error) {
	if cc.Type == "memory" {
		return false, nil
	}
	c, err := cache.New(cc)
	if err != nil {
		return false, err
	}
	defer c.Close()
	if err := c.SetImportance(ctx, gi, ttl); err != nil {
		return false, err
	}
	return true, nil
}
