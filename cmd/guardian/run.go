package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mniyk/guardian-agent/internal/agent"
	"github.com/mniyk/guardian-agent/internal/config"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start monitoring (default command)",
		RunE:  runAgent,
	}
	cmd.Flags().StringVar(&watchPath, "watch-path", "", "Root directory to watch (overrides configuration)")
	return cmd
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if watchPath != "" {
		fileConfig := cfg.Modules[config.FileMonitorModule]
		if fileConfig.Options == nil {
			fileConfig.Options = make(map[string]interface{})
		}
		fileConfig.Options["path"] = watchPath
		cfg.Modules[config.FileMonitorModule] = fileConfig
	}

	a, err := agent.New(cfg, log, agent.Options{})
	if err != nil {
		log.Error("Failed to start agent", zap.Error(err))
		return err
	}

	// 終了シグナルでキャンセル
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}
