package proxy

import (
	"fmt"

	"github.com/pkg/errors"
)

// Every failure below is terminal for the current invocation. Nothing is
// retried and nothing already done is rolled back; re-running the command is
// the recovery path.
var (
	ErrRuntimeUnavailable       = errors.New("container runtime is not available (is the docker daemon running?)")
	ErrImageAcquisitionFailed   = errors.New("proxy image acquisition failed")
	ErrLaunchVerificationFailed = errors.New("proxy container exited right after launch (check 'rds-proxy logs')")
	ErrProxyNotRunning          = errors.New("proxy is not running (run 'rds-proxy start' first)")
	ErrConnectionFailed         = errors.New("database connection through the proxy failed")
	ErrBastionReadyTimeout      = errors.New("timed out waiting for the bastion instance to become ready")
)

// BastionUnavailableError reports a bastion in a state the orchestrator will
// not try to force a transition out of.
type BastionUnavailableError struct {
	State BastionState
}

func (e *BastionUnavailableError) Error() string {
	return fmt.Sprintf("bastion instance is %s; wait for it to settle or fix it in the console", e.State)
}
