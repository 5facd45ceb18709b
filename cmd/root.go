package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "factura-cli",
	Short: "Invoice extraction and analysis pipeline",
	Long:  "Extracts structured data from Spanish utility invoices with provider regex patterns plus an LLM backend, stores the results and serves analysis workflows.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
