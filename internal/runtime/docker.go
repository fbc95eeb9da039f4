// Package runtime adapts the local Docker daemon to the proxy.Runtime
// interface.
package runtime

import (
	"context"
	"io"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/pkg/errors"

	"github.com/blik616287/rds-proxy/internal/proxy"
)

// Docker talks to the daemon configured by the usual DOCKER_* environment.
type Docker struct {
	cli *client.Client
}

func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "create docker client")
	}
	return &Docker{cli: cli}, nil
}

// Client exposes the underlying SDK client for collaborators that need raw
// daemon access, like the image puller.
func (d *Docker) Client() *client.Client {
	return d.cli
}

func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *Docker) State(ctx context.Context, name string) (proxy.RuntimeState, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return proxy.RuntimeAbsent, nil
		}
		return proxy.RuntimeAbsent, errors.Wrapf(err, "inspect %s", name)
	}
	if info.State != nil && info.State.Running {
		return proxy.RuntimeRunning, nil
	}
	return proxy.RuntimeStopped, nil
}

func (d *Docker) Launch(ctx context.Context, spec proxy.LaunchSpec) error {
	portStr := strconv.Itoa(spec.LocalPort)
	port, err := nat.NewPort("tcp", portStr)
	if err != nil {
		return errors.Wrapf(err, "build port %s", portStr)
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image,
			Env:          spec.Env,
			ExposedPorts: nat.PortSet{port: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: portStr}},
			},
			// Survive proxy crashes and host reboots without operator help.
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
			Binds:         []string{spec.ConfigPath + ":/config/config.json:ro"},
		},
		nil, nil, spec.Name)
	if err != nil {
		return errors.Wrapf(err, "create %s", spec.Name)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return errors.Wrapf(err, "start %s", spec.Name)
	}
	return nil
}

func (d *Docker) Stop(ctx context.Context, name string) error {
	err := d.cli.ContainerStop(ctx, name, container.StopOptions{})
	if err != nil && !client.IsErrNotFound(err) {
		return errors.Wrapf(err, "stop %s", name)
	}
	return nil
}

func (d *Docker) Remove(ctx context.Context, name string) error {
	err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return errors.Wrapf(err, "remove %s", name)
	}
	return nil
}

func (d *Docker) Logs(ctx context.Context, name string, follow bool, out io.Writer) error {
	rc, err := d.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
	})
	if err != nil {
		return errors.Wrapf(err, "logs of %s", name)
	}
	defer rc.Close()

	// Non-TTY containers multiplex stdout and stderr on one stream.
	if _, err := stdcopy.StdCopy(out, out, rc); err != nil && err != io.EOF {
		return errors.Wrapf(err, "stream logs of %s", name)
	}
	return nil
}
