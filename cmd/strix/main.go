package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "strix",
		Short: "Strix - autonomous inspection drone daemon",
		Long:  "Backend orchestrator for an autonomous inspection drone: detection pipeline, marker-driven diagnosis workflow, mission controller and WebSocket control plane.",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "State directory (models, keyring)")

	rootCmd.AddCommand(
		daemonCmd(),
		modelsCmd(),
		secretsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	if v := os.Getenv("STRIX_DATA_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".strix"
	}
	return home + "/.strix"
}
