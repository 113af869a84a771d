package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "ratelimiter",
	Short: "Tenant rate limiter with a separate control plane and data plane",
	Long: `ratelimiter enforces per-tenant request limits.

The control plane owns the authoritative, versioned policy set. Data planes cache
policies locally, decide every request from memory and converge on the latest
version through periodic pulls, pushes and an optional Redis channel.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if err := loadEnvFile(envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "extra env file loaded before configuration (overrides .env)")
}
