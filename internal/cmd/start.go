package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/blik616287/rds-proxy/internal/bastion"
	"github.com/blik616287/rds-proxy/internal/config"
	"github.com/blik616287/rds-proxy/internal/dbcheck"
	"github.com/blik616287/rds-proxy/internal/proxy"
	"github.com/blik616287/rds-proxy/internal/registry"
	"github.com/blik616287/rds-proxy/internal/runtime"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the proxy container, cold-starting the bastion if needed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(config.StartFields...)
		if err != nil {
			return err
		}
		orch, err := fullOrchestrator(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		res, err := orch.Start(cmd.Context())
		if err != nil {
			return err
		}
		printStartResult(cmd, res)
		return nil
	},
}

func init() {
	startCmd.Flags().DurationVar(&bastionWait, "bastion-wait", 10*time.Minute, "how long to wait for a cold bastion to pass status checks")
	restartCmd.Flags().DurationVar(&bastionWait, "bastion-wait", 10*time.Minute, "how long to wait for a cold bastion to pass status checks")
}

// fullOrchestrator builds an orchestrator with every collaborator attached,
// as start and restart need all of them.
func fullOrchestrator(ctx context.Context, cfg *config.Config) (*proxy.Orchestrator, error) {
	rt, err := runtime.NewDocker()
	if err != nil {
		return nil, err
	}
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return proxy.New(cfg, proxy.Deps{
		Runtime: rt,
		Bastion: bastion.NewEC2(ec2.NewFromConfig(awsCfg), bastionWait),
		Images:  registry.NewECR(ecr.NewFromConfig(awsCfg), rt.Client(), cfg.Image, cfg.ImageTag),
		Tester:  dbcheck.NewPostgres(cfg.PostgresDSN()),
	}), nil
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	return awsCfg, errors.Wrap(err, "load AWS configuration")
}

func printStartResult(cmd *cobra.Command, res *proxy.StartResult) {
	out := cmd.OutOrStdout()
	if res.AlreadyRunning {
		fmt.Fprintf(out, "%s is already running on %s\n", res.Name, res.Endpoint)
		fmt.Fprintf(out, "  connection: %s\n", res.ConnectionString)
		return
	}
	fmt.Fprintf(out, "%s is up\n", res.Name)
	fmt.Fprintf(out, "  endpoint:   %s\n", res.Endpoint)
	fmt.Fprintf(out, "  image:      %s\n", res.ImageRef)
	fmt.Fprintf(out, "  user:       %s\n", res.User)
	fmt.Fprintf(out, "  database:   %s\n", res.Database)
	fmt.Fprintf(out, "  connection: %s\n", res.ConnectionString)
}
