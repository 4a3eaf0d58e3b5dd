package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/abtest-cli/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:     "abtest-cli",
	Short:   "A/B experiment assignment and analysis toolbox",
	Long:    "Assigns units to experiment groups by deterministic hashing, searches for the seed with the best baseline balance, and runs significance tests and sample-size plans.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
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
