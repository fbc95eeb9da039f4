package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blik616287/rds-proxy/internal/config"
	"github.com/blik616287/rds-proxy/internal/dbcheck"
	"github.com/blik616287/rds-proxy/internal/proxy"
	"github.com/blik616287/rds-proxy/internal/runtime"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "run a query through the proxy to confirm end-to-end connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.TestFields...)
		if err != nil {
			return err
		}
		rt, err := runtime.NewDocker()
		if err != nil {
			return err
		}
		orch := proxy.New(cfg, proxy.Deps{
			Runtime: rt,
			Tester:  dbcheck.NewPostgres(cfg.PostgresDSN()),
		})
		rep, err := orch.Test(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "connection test passed")
		if rep != nil {
			fmt.Fprintf(out, "  database: %s\n", rep.Database)
			fmt.Fprintf(out, "  user:     %s\n", rep.User)
			fmt.Fprintf(out, "  server:   %s:%s\n", rep.ServerAddr, rep.ServerPort)
			fmt.Fprintf(out, "  time:     %s\n", rep.ServerTime)
		}
		return nil
	},
}
