// Package proxy owns the lifecycle decisions for one configuration's proxy
// container: when to no-op, when to cold-start the bastion, and when to give
// up. Everything it touches is behind an interface; the real Docker, EC2,
// ECR and postgres adapters live in their own packages.
package proxy

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/blik616287/rds-proxy/internal/config"
)

// defaultSettleDelay is how long a freshly started container gets before the
// post-launch state check. Long enough for an immediately-crashing proxy to
// have exited, short enough not to annoy.
const defaultSettleDelay = 2 * time.Second

// Deps are the external collaborators. Commands that never reach a
// collaborator may leave it nil.
type Deps struct {
	Runtime Runtime
	Bastion Bastion
	Images  ImageProvider
	Tester  Tester
}

// Orchestrator runs one lifecycle command against one configuration.
type Orchestrator struct {
	cfg  *config.Config
	name string
	deps Deps

	settle  time.Duration
	lockDir string
}

func New(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		name:    cfg.ContainerName(),
		deps:    deps,
		settle:  defaultSettleDelay,
		lockDir: os.TempDir(),
	}
}

// Start ensures a single running proxy container for this configuration,
// doing the least work necessary: an already-running container short-circuits
// everything, a stopped bastion is started and waited for, a stale container
// is removed before a fresh launch.
func (o *Orchestrator) Start(ctx context.Context) (*StartResult, error) {
	unlock, err := o.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return o.start(ctx)
}

func (o *Orchestrator) start(ctx context.Context) (*StartResult, error) {
	if err := o.deps.Runtime.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}

	state, err := o.deps.Runtime.State(ctx, o.name)
	if err != nil {
		return nil, errors.Wrapf(err, "query state of %s", o.name)
	}
	if state == RuntimeRunning {
		log.Infof("%s is already running, nothing to do", o.name)
		return o.startResult(true, ""), nil
	}

	if err := o.ensureBastion(ctx); err != nil {
		return nil, err
	}

	ref, err := o.deps.Images.Pull(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageAcquisitionFailed, err)
	}

	// A previous exited container must never block the name.
	if state == RuntimeStopped {
		log.Infof("removing stale container %s", o.name)
		if err := o.deps.Runtime.Remove(ctx, o.name); err != nil {
			return nil, errors.Wrapf(err, "remove stale container %s", o.name)
		}
	}

	log.Infof("launching %s on %s", o.name, o.cfg.LocalEndpoint())
	if err := o.deps.Runtime.Launch(ctx, o.launchSpec(ref)); err != nil {
		return nil, errors.Wrapf(err, "launch %s", o.name)
	}

	// The launch call returning cleanly is not proof of life: a proxy with a
	// bad endpoint accepts the start and exits immediately.
	select {
	case <-time.After(o.settle):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	state, err = o.deps.Runtime.State(ctx, o.name)
	if err != nil {
		return nil, errors.Wrapf(err, "verify state of %s", o.name)
	}
	if state != RuntimeRunning {
		return nil, ErrLaunchVerificationFailed
	}

	return o.startResult(false, ref), nil
}

func (o *Orchestrator) ensureBastion(ctx context.Context) error {
	id := o.cfg.BastionInstanceID
	state, err := o.deps.Bastion.State(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "describe bastion %s", id)
	}
	switch state {
	case BastionRunning:
		return nil
	case BastionStopped:
		log.Infof("bastion %s is stopped, starting it", id)
		if err := o.deps.Bastion.Start(ctx, id); err != nil {
			return errors.Wrapf(err, "start bastion %s", id)
		}
		return o.deps.Bastion.WaitReady(ctx, id)
	default:
		return &BastionUnavailableError{State: state}
	}
}

func (o *Orchestrator) launchSpec(imageRef string) LaunchSpec {
	return LaunchSpec{
		Name:       o.name,
		Image:      imageRef,
		LocalPort:  o.cfg.LocalPort,
		ConfigPath: o.cfg.Path(),
		Env: []string{
			"RDS_ENDPOINT=" + o.cfg.RDSEndpoint,
			"LOCAL_PORT=" + strconv.Itoa(o.cfg.LocalPort),
			"AWS_REGION=" + o.cfg.AWSRegion,
		},
	}
}

func (o *Orchestrator) startResult(alreadyRunning bool, imageRef string) *StartResult {
	return &StartResult{
		AlreadyRunning:   alreadyRunning,
		Name:             o.name,
		Endpoint:         o.cfg.LocalEndpoint(),
		User:             o.cfg.DBUser,
		Database:         o.cfg.DBName,
		ConnectionString: o.cfg.ConnectionString,
		ImageRef:         imageRef,
	}
}

// Stop stops and removes the container unconditionally. A container that was
// never started, or is already gone, is not an error.
func (o *Orchestrator) Stop(ctx context.Context) error {
	unlock, err := o.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return o.stop(ctx)
}

func (o *Orchestrator) stop(ctx context.Context) error {
	if err := o.deps.Runtime.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	if err := o.deps.Runtime.Stop(ctx, o.name); err != nil {
		return errors.Wrapf(err, "stop %s", o.name)
	}
	if err := o.deps.Runtime.Remove(ctx, o.name); err != nil {
		return errors.Wrapf(err, "remove %s", o.name)
	}
	log.Infof("%s stopped and removed", o.name)
	return nil
}

// Restart is stop-then-start under one lock. The stop result is deliberately
// ignored: restarting a proxy that was not running is a plain start.
func (o *Orchestrator) Restart(ctx context.Context) (*StartResult, error) {
	unlock, err := o.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := o.stop(ctx); err != nil {
		log.Warnf("stop before restart: %v", err)
	}
	return o.start(ctx)
}

// Status reports whether the container is running. Read-only.
func (o *Orchestrator) Status(ctx context.Context) (*StatusReport, error) {
	if err := o.deps.Runtime.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	state, err := o.deps.Runtime.State(ctx, o.name)
	if err != nil {
		return nil, errors.Wrapf(err, "query state of %s", o.name)
	}
	rep := &StatusReport{Name: o.name, Running: state == RuntimeRunning}
	if rep.Running {
		rep.ConnectionString = o.cfg.ConnectionString
	}
	return rep, nil
}

// Test confirms the proxy is alive end to end by running a query through it.
// It never mutates proxy or bastion state and refuses to touch the database
// unless the container is actually running.
func (o *Orchestrator) Test(ctx context.Context) (*TestReport, error) {
	if err := o.deps.Runtime.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	state, err := o.deps.Runtime.State(ctx, o.name)
	if err != nil {
		return nil, errors.Wrapf(err, "query state of %s", o.name)
	}
	if state != RuntimeRunning {
		return nil, ErrProxyNotRunning
	}
	return o.deps.Tester.Run(ctx)
}

// Logs streams the container's output. Pass-through apart from the runtime
// availability check.
func (o *Orchestrator) Logs(ctx context.Context, follow bool, out io.Writer) error {
	if err := o.deps.Runtime.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return o.deps.Runtime.Logs(ctx, o.name, follow, out)
}
