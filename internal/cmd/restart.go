package cmd

import (
	"github.com/spf13/cobra"

	"github.com/blik616287/rds-proxy/internal/config"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "stop the proxy container and start it again",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.StartFields...)
		if err != nil {
			return err
		}
		orch, err := fullOrchestrator(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		res, err := orch.Restart(cmd.Context())
		if err != nil {
			return err
		}
		printStartResult(cmd, res)
		return nil
	},
}
