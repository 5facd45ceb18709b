package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/facturio/factura-cli/internal/export"
	"github.com/facturio/factura-cli/internal/store"
)

var (
	exportCategory string
	exportVendor   string
)

var exportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Export the invoice report to a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		invoices, err := env.Store.ListInvoices(ctx, store.InvoiceFilter{
			Category: exportCategory,
			Vendor:   exportVendor,
		})
		if err != nil {
			return err
		}

		if err := export.WriteInvoices(args[0], invoices); err != nil {
			return err
		}

		fmt.Printf("exported %d invoices to %s\n", len(invoices), args[0])
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportCategory, "category", "", "filter by category")
	exportCmd.Flags().StringVar(&exportVendor, "vendor", "", "filter by vendor")
	rootCmd.AddCommand(exportCmd)
}
