// Package cmd wires the lifecycle commands to the orchestrator.
package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blik616287/rds-proxy/internal/config"
	"github.com/blik616287/rds-proxy/internal/proxy"
	"github.com/blik616287/rds-proxy/internal/runtime"
)

const defaultConfigPath = "config.json"

var (
	configPath  string
	logLevel    string
	logFile     string
	bastionWait time.Duration
	followLogs  bool

	rootCmd = &cobra.Command{
		Use:          "rds-proxy",
		Short:        "manage the local RDS access proxy",
		Long:         "rds-proxy runs a containerized proxy that tunnels local database connections\nto a private RDS instance through an EC2 bastion.",
		SilenceUsage: true,
		// A bare invocation behaves like "status".
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd.RunE(cmd, args)
		},
	}
)

// Execute runs the root command, cancelling every in-flight collaborator
// call on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the proxy configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "console", "log file path, or \"console\" for stderr")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(logsCmd)
}

// loadConfig initializes logging, loads the configuration and checks the
// fields the invoked command depends on, so that a broken configuration
// fails before any side effect.
func loadConfig(required ...string) (*config.Config, error) {
	if err := initLog(logLevel, logFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Require(required...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runtimeOrchestrator builds an orchestrator with only the container runtime
// attached, enough for status, stop and logs.
func runtimeOrchestrator(cfg *config.Config) (*proxy.Orchestrator, error) {
	rt, err := runtime.NewDocker()
	if err != nil {
		return nil, err
	}
	return proxy.New(cfg, proxy.Deps{Runtime: rt}), nil
}
