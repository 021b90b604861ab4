package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mirkored-07/tenderpilot/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "tenderpilot",
	Short: "Asynchronous tender review pipeline",
	Long:  "Extracts uploaded tender documents via a structuring service, mines citable evidence, and produces grounded reviews with a single Claude reasoning call per job.",
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
