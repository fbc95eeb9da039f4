package proxy

import (
	"context"
	"io"
)

// RuntimeState is the observed state of the named proxy container. It is
// recomputed on every query, never cached across invocations.
type RuntimeState int

const (
	RuntimeAbsent RuntimeState = iota
	RuntimeRunning
	RuntimeStopped
)

func (s RuntimeState) String() string {
	switch s {
	case RuntimeRunning:
		return "running"
	case RuntimeStopped:
		return "stopped"
	default:
		return "absent"
	}
}

// BastionState is the power state of the bastion instance as reported by the
// cloud provider at the moment of the query.
type BastionState string

const (
	BastionRunning       BastionState = "running"
	BastionStopped       BastionState = "stopped"
	BastionTransitioning BastionState = "transitioning"
	BastionNotFound      BastionState = "not-found"
	BastionOther         BastionState = "other"
)

// LaunchSpec is everything the runtime needs to create the proxy container.
type LaunchSpec struct {
	Name       string
	Image      string
	Env        []string
	LocalPort  int
	ConfigPath string // bind-mounted read-only into the container
}

// Runtime is the container runtime the orchestrator drives. Stop and Remove
// are idempotent: a missing container is not an error.
type Runtime interface {
	Ping(ctx context.Context) error
	State(ctx context.Context, name string) (RuntimeState, error)
	Launch(ctx context.Context, spec LaunchSpec) error
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	Logs(ctx context.Context, name string, follow bool, out io.Writer) error
}

// Bastion manages the intermediary instance the proxy tunnels through.
type Bastion interface {
	State(ctx context.Context, id string) (BastionState, error)
	Start(ctx context.Context, id string) error
	WaitReady(ctx context.Context, id string) error
}

// ImageProvider acquires the proxy image and returns the pulled reference.
type ImageProvider interface {
	Pull(ctx context.Context) (string, error)
}

// Tester probes the proxied database. A nil report with a nil error means
// the connection works but the diagnostic details were unavailable.
type Tester interface {
	Run(ctx context.Context) (*TestReport, error)
}

// TestReport carries the diagnostic row returned by the detail query.
type TestReport struct {
	Database   string
	User       string
	ServerAddr string
	ServerPort string
	ServerTime string
}

// StartResult is what the start command displays to the operator.
type StartResult struct {
	AlreadyRunning   bool
	Name             string
	Endpoint         string
	User             string
	Database         string
	ConnectionString string
	ImageRef         string
}

// StatusReport is the read-only answer to the status command.
type StatusReport struct {
	Name             string
	Running          bool
	ConnectionString string
}
