package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mniyk/guardian-agent/internal/config"
	"github.com/mniyk/guardian-agent/internal/logger"
)

const version = "0.1.0"

var (
	configPath string
	logLevel   string
	watchPath  string
)

func main() {
	// .env があれば環境変数として読み込む
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "guardian",
		Short: "Host activity monitoring agent",
		Long: `guardian watches a directory tree and whole-system resource usage,
classifies each observation, matches it against an ordered rule set and
writes one JSON event per line to stdout. Logs go to stderr.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runAgent,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&watchPath, "watch-path", "", "Root directory to watch (overrides configuration)")

	rootCmd.AddCommand(newRunCommand(), newRelayCommand(), newRulesCommand())
	return rootCmd
}

// 設定とロガーを用意
func setup() (*config.Configs, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
