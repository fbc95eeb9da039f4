package cmd

import (
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "print the proxy container's logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		orch, err := runtimeOrchestrator(cfg)
		if err != nil {
			return err
		}
		return orch.Logs(cmd.Context(), followLogs, cmd.OutOrStdout())
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&followLogs, "follow", "f", false, "follow log output")
}
