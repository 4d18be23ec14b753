package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deals/internal/config"
)

// modeAnnotation names the config validation mode a command needs.
const modeAnnotation = "config-mode"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "deals",
	Short: "Retail deals API and D1 bulk ingest tooling",
	Long:  "Serves current and searchable retail deals over HTTP, converts crawler output into SQL dumps and uploads them into Cloudflare D1.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if mode := cmd.Annotations[modeAnnotation]; mode != "" {
			if err := cfg.Validate(mode); err != nil {
				return err
			}
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
