// Command paydisco discovers and verifies payment apps for web payment methods
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"paydisco/internal/core/version"
	"paydisco/internal/platform/logger"
)

func main() {
	logger.Init(logger.FromEnv())

	rootCmd := &cobra.Command{
		Use:           "paydisco",
		Short:         "Discover payment apps and verify them against payment method manifests",
		Version:       version.Info().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("cache", "", "cache backend (memory, sqlite, postgres, redis)")
	rootCmd.PersistentFlags().String("registry", "", "device registry snapshot (YAML)")

	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(cacheCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
