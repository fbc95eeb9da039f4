package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "report whether the proxy container is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		orch, err := runtimeOrchestrator(cfg)
		if err != nil {
			return err
		}
		rep, err := orch.Status(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if rep.Running {
			fmt.Fprintf(out, "%s is running\n", rep.Name)
			fmt.Fprintf(out, "  connection: %s\n", rep.ConnectionString)
		} else {
			fmt.Fprintf(out, "%s is not running (run 'rds-proxy start')\n", rep.Name)
		}
		return nil
	},
}
