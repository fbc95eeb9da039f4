// Package bastion drives the EC2 instance the proxy tunnels through.
package bastion

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/blik616287/rds-proxy/internal/proxy"
)

// EC2 implements proxy.Bastion against the EC2 API. The readiness wait is
// bounded by waitTimeout; a bastion that never converges produces
// ErrBastionReadyTimeout instead of hanging the invocation forever.
type EC2 struct {
	client      *ec2.Client
	waitTimeout time.Duration
}

func NewEC2(client *ec2.Client, waitTimeout time.Duration) *EC2 {
	return &EC2{client: client, waitTimeout: waitTimeout}
}

func (b *EC2) State(ctx context.Context, id string) (proxy.BastionState, error) {
	out, err := b.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		var apiErr smithy.APIError
		if stderrors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceID.NotFound" {
			return proxy.BastionNotFound, nil
		}
		return proxy.BastionOther, errors.Wrapf(err, "describe instance %s", id)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return proxy.BastionNotFound, nil
	}
	st := out.Reservations[0].Instances[0].State
	if st == nil {
		return proxy.BastionOther, nil
	}
	switch st.Name {
	case ec2types.InstanceStateNameRunning:
		return proxy.BastionRunning, nil
	case ec2types.InstanceStateNameStopped:
		return proxy.BastionStopped, nil
	case ec2types.InstanceStateNamePending,
		ec2types.InstanceStateNameStopping,
		ec2types.InstanceStateNameShuttingDown:
		return proxy.BastionTransitioning, nil
	default:
		return proxy.BastionOther, nil
	}
}

func (b *EC2) Start(ctx context.Context, id string) error {
	_, err := b.client.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{id},
	})
	return errors.Wrapf(err, "start instance %s", id)
}

// WaitReady blocks until the instance passes both EC2 status checks, which
// is when its network path is actually usable, not merely when it reports
// "running".
func (b *EC2) WaitReady(ctx context.Context, id string) error {
	log.Infof("waiting up to %s for bastion %s to pass status checks", b.waitTimeout, id)
	waitCtx, cancel := context.WithTimeout(ctx, b.waitTimeout)
	defer cancel()

	waiter := ec2.NewInstanceStatusOkWaiter(b.client)
	err := waiter.Wait(waitCtx, &ec2.DescribeInstanceStatusInput{
		InstanceIds: []string{id},
	}, b.waitTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Only an elapsed deadline is a timeout; an API failure mid-wait
		// (throttling, missing permissions) keeps its own identity.
		if waitCtx.Err() != nil {
			return fmt.Errorf("%w: %v", proxy.ErrBastionReadyTimeout, err)
		}
		return errors.Wrapf(err, "wait for instance %s status checks", id)
	}
	return nil
}
