package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stop and remove the proxy container",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		orch, err := runtimeOrchestrator(cfg)
		if err != nil {
			return err
		}
		if err := orch.Stop(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s stopped\n", cfg.ContainerName())
		return nil
	},
}
