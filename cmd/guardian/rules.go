package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mniyk/guardian-agent/internal/agent"
)

func newRulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the effective rule list in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			engine, err := agent.LoadRules(cfg.Rules, log)
			if err != nil {
				return err
			}
			for i, name := range engine.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i+1, name)
			}
			return nil
		},
	}
}
