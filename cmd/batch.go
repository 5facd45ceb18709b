package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/facturio/factura-cli/internal/store"
)

var batchCmd = &cobra.Command{
	Use:   "batch <glob>",
	Short: "Extract and persist a batch of invoice documents",
	Long:  "Processes every file matching the glob concurrently. Completions are rate limited so a local model is not flooded.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		files, err := filepath.Glob(args[0])
		if err != nil {
			return eris.Wrap(err, "expand glob")
		}
		if len(files) == 0 {
			return eris.Errorf("no files match %q", args[0])
		}

		summary, err := runBatch(ctx, env, files)
		if err != nil {
			return err
		}

		fmt.Printf("processed %d, saved %d, duplicates %d, failed %d\n",
			len(files), summary.saved, summary.duplicates, summary.failed)
		return nil
	},
}

type batchSummary struct {
	saved      int64
	duplicates int64
	failed     int64
}

// runBatch processes the files with bounded concurrency and a shared
// completion rate limit. Per-file failures are counted, not fatal; only a
// cancelled context aborts the run.
func runBatch(ctx context.Context, env *appEnv, files []string) (*batchSummary, error) {
	limiter := rate.NewLimiter(rate.Limit(cfg.Batch.RatePerSecond), 1)
	summary := &batchSummary{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Batch.MaxConcurrent)

	for _, file := range files {
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}

			rec, err := env.Pipeline.ProcessFile(ctx, file)
			if err != nil {
				zap.L().Error("batch: extraction failed", zap.String("file", file), zap.Error(err))
				atomic.AddInt64(&summary.failed, 1)
				return nil
			}

			if _, err := env.Store.SaveInvoice(ctx, rec); err != nil {
				if eris.Is(err, store.ErrDuplicateInvoice) {
					zap.L().Warn("batch: duplicate invoice skipped",
						zap.String("file", file),
						zap.String("invoice_number", rec.InvoiceNumber),
					)
					atomic.AddInt64(&summary.duplicates, 1)
					return nil
				}
				zap.L().Error("batch: save failed", zap.String("file", file), zap.Error(err))
				atomic.AddInt64(&summary.failed, 1)
				return nil
			}

			atomic.AddInt64(&summary.saved, 1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch run")
	}
	return summary, nil
}

func init() {
	rootCmd.AddCommand(batchCmd)
}
