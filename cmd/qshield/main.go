// Command qshield serves the quantum-shield gRPC API and runs a local demo.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// #region main
var (
	configPath string

	rootCmd = &cobra.Command{
		Use:          "qshield",
		Short:        "Protect data as a superposition of encrypted replicas",
		SilenceUsage: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", envOr("QSHIELD_CONFIG", ""), "path to a YAML config file")
	rootCmd.AddCommand(serveCommand(), demoCommand())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #endregion main

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
