package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/ingest"
	"github.com/facturio/factura-cli/internal/store"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the inbox directory and process dropped invoices",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "watch")
		if err != nil {
			return err
		}
		defer env.Close()

		handler := func(ctx context.Context, path string) error {
			rec, err := env.Pipeline.ProcessFile(ctx, path)
			if err != nil {
				return err
			}
			if _, err := env.Store.SaveInvoice(ctx, rec); err != nil {
				// A duplicate is handled, not failed: the file still moves
				// aside so it is not reprocessed forever.
				if eris.Is(err, store.ErrDuplicateInvoice) {
					zap.L().Warn("watch: duplicate invoice skipped",
						zap.String("invoice_number", rec.InvoiceNumber),
					)
					return nil
				}
				return err
			}
			return nil
		}

		watcher := ingest.New(cfg.Watch, cfg.OCR.Extensions, handler)
		return watcher.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
