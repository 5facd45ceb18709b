package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/store"
)

var extractSave bool

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract structured data from one invoice document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Pipeline.ProcessFile(ctx, args[0])
		if err != nil {
			return err
		}

		if extractSave {
			saved, err := env.Store.SaveInvoice(ctx, rec)
			if err != nil {
				if eris.Is(err, store.ErrDuplicateInvoice) {
					return eris.Errorf("invoice %s from %s already exists", rec.InvoiceNumber, rec.VendorName)
				}
				return err
			}
			rec = saved
			zap.L().Info("invoice saved", zap.Int64("id", saved.ID))
		}

		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal record")
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	extractCmd.Flags().BoolVar(&extractSave, "save", false, "persist the extracted invoice")
	rootCmd.AddCommand(extractCmd)
}
