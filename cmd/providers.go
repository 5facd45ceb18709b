package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/registry"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage provider pattern profiles",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the provider profiles in the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "providers")
		if err != nil {
			return err
		}
		defer env.Close()

		profiles, err := env.Store.ListProviders(ctx)
		if err != nil {
			return err
		}

		for _, p := range profiles {
			patterns := 0
			for _, list := range p.Patterns {
				patterns += len(list)
			}
			fmt.Printf("%-12s vendor=%-12s category=%-12s patterns=%d\n",
				p.Name, p.VendorName, p.Category, patterns)
		}
		return nil
	},
}

var providersSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Replace the store's profiles with the bundled defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "providers")
		if err != nil {
			return err
		}
		defer env.Close()

		profiles, err := registry.DefaultProfiles()
		if err != nil {
			return err
		}
		if err := env.Store.ReplaceProviders(ctx, profiles); err != nil {
			return err
		}

		zap.L().Info("providers seeded", zap.Int("count", len(profiles)))
		return nil
	},
}

var providersImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Replace the store's profiles with the ones in a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "providers")
		if err != nil {
			return err
		}
		defer env.Close()

		profiles, err := registry.LoadProfilesFromFile(args[0])
		if err != nil {
			return err
		}
		if err := env.Store.ReplaceProviders(ctx, profiles); err != nil {
			return err
		}

		zap.L().Info("providers imported",
			zap.String("file", args[0]),
			zap.Int("count", len(profiles)),
		)
		return nil
	},
}

func init() {
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersSeedCmd)
	providersCmd.AddCommand(providersImportCmd)
	rootCmd.AddCommand(providersCmd)
}
