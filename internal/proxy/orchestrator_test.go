package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blik616287/rds-proxy/internal/config"
)

const testConfigJSON = `{
  "bastion_instance_id": "i-0123456789abcdef0",
  "rds_endpoint": "mydb.cluster-abc.us-west-2.rds.amazonaws.com:5432",
  "aws_region": "us-west-2",
  "db_user": "app",
  "db_password": "secret",
  "db_name": "appdb",
  "image": "123456789012.dkr.ecr.us-west-2.amazonaws.com/rds-proxy"
}`

type fakeRuntime struct {
	pingErr    error
	stateErr   error
	launchErr  error
	stopErr    error
	launchDies bool

	states   map[string]RuntimeState
	launched []LaunchSpec
	stopped  []string
	removed  []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{states: map[string]RuntimeState{}}
}

func (f *fakeRuntime) Ping(context.Context) error { return f.pingErr }

func (f *fakeRuntime) State(_ context.Context, name string) (RuntimeState, error) {
	if f.stateErr != nil {
		return RuntimeAbsent, f.stateErr
	}
	if s, ok := f.states[name]; ok {
		return s, nil
	}
	return RuntimeAbsent, nil
}

func (f *fakeRuntime) Launch(_ context.Context, spec LaunchSpec) error {
	f.launched = append(f.launched, spec)
	if f.launchErr != nil {
		return f.launchErr
	}
	if f.launchDies {
		delete(f.states, spec.Name)
	} else {
		f.states[spec.Name] = RuntimeRunning
	}
	return nil
}

func (f *fakeRuntime) Stop(_ context.Context, name string) error {
	f.stopped = append(f.stopped, name)
	if f.stopErr != nil {
		return f.stopErr
	}
	if _, ok := f.states[name]; ok {
		f.states[name] = RuntimeStopped
	}
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	delete(f.states, name)
	return nil
}

func (f *fakeRuntime) Logs(_ context.Context, name string, _ bool, out io.Writer) error {
	fmt.Fprintf(out, "logs of %s\n", name)
	return nil
}

type fakeBastion struct {
	state      BastionState
	waitErr    error
	startCalls int
	waitCalls  int
}

func (f *fakeBastion) State(context.Context, string) (BastionState, error) { return f.state, nil }

func (f *fakeBastion) Start(context.Context, string) error {
	f.startCalls++
	return nil
}

func (f *fakeBastion) WaitReady(context.Context, string) error {
	f.waitCalls++
	if f.waitErr != nil {
		return f.waitErr
	}
	f.state = BastionRunning
	return nil
}

type fakeImages struct {
	pulls int
	ref   string
	err   error
}

func (f *fakeImages) Pull(context.Context) (string, error) {
	f.pulls++
	if f.err != nil {
		return "", f.err
	}
	return f.ref, nil
}

type fakeTester struct {
	runs   int
	report *TestReport
	err    error
}

func (f *fakeTester) Run(context.Context) (*TestReport, error) {
	f.runs++
	return f.report, f.err
}

func newOrchestrator(t *testing.T, cfgName string, deps Deps) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, cfgName)
	require.NoError(t, os.WriteFile(path, []byte(testConfigJSON), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	o := New(cfg, deps)
	o.settle = 0
	o.lockDir = dir
	return o
}

func TestStartColdBastion(t *testing.T) {
	rt := newFakeRuntime()
	bast := &fakeBastion{state: BastionStopped}
	imgs := &fakeImages{ref: "registry/rds-proxy:latest"}
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Bastion: bast, Images: imgs})

	res, err := o.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, bast.startCalls)
	assert.Equal(t, 1, bast.waitCalls)
	assert.Equal(t, 1, imgs.pulls)
	require.Len(t, rt.launched, 1)

	spec := rt.launched[0]
	assert.Equal(t, "rdsproxy_cfg-a", spec.Name)
	assert.Equal(t, "registry/rds-proxy:latest", spec.Image)
	assert.Equal(t, 1337, spec.LocalPort)
	assert.Equal(t, o.cfg.Path(), spec.ConfigPath)
	assert.Contains(t, spec.Env, "RDS_ENDPOINT=mydb.cluster-abc.us-west-2.rds.amazonaws.com:5432")

	assert.False(t, res.AlreadyRunning)
	assert.Equal(t, "127.0.0.1:1337", res.Endpoint)
	assert.Equal(t, "registry/rds-proxy:latest", res.ImageRef)
}

func TestStartRunningBastionSkipsColdStart(t *testing.T) {
	rt := newFakeRuntime()
	bast := &fakeBastion{state: BastionRunning}
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Bastion: bast, Images: &fakeImages{ref: "r:1"}})

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.Zero(t, bast.startCalls)
	assert.Zero(t, bast.waitCalls)
}

func TestStartIsIdempotent(t *testing.T) {
	rt := newFakeRuntime()
	bast := &fakeBastion{state: BastionRunning}
	imgs := &fakeImages{ref: "r:1"}
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Bastion: bast, Images: imgs})

	first, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, first.AlreadyRunning)

	second, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, second.AlreadyRunning)

	// The second start must not pull or launch again.
	assert.Equal(t, 1, imgs.pulls)
	assert.Len(t, rt.launched, 1)
}

func TestStartAmbiguousBastionState(t *testing.T) {
	for _, state := range []BastionState{BastionTransitioning, BastionNotFound, BastionOther} {
		t.Run(string(state), func(t *testing.T) {
			rt := newFakeRuntime()
			imgs := &fakeImages{ref: "r:1"}
			o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Bastion: &fakeBastion{state: state}, Images: imgs})

			_, err := o.Start(context.Background())
			var bastErr *BastionUnavailableError
			require.ErrorAs(t, err, &bastErr)
			assert.Equal(t, state, bastErr.State)
			assert.Zero(t, imgs.pulls)
			assert.Empty(t, rt.launched)
		})
	}
}

func TestStartBastionWaitFailureAbortsBeforePull(t *testing.T) {
	rt := newFakeRuntime()
	bast := &fakeBastion{state: BastionStopped, waitErr: ErrBastionReadyTimeout}
	imgs := &fakeImages{ref: "r:1"}
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Bastion: bast, Images: imgs})

	_, err := o.Start(context.Background())
	require.ErrorIs(t, err, ErrBastionReadyTimeout)
	assert.Equal(t, 1, bast.startCalls)
	assert.Zero(t, imgs.pulls)
	assert.Empty(t, rt.launched)
}

func TestStartRemovesStaleContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.states["rdsproxy_cfg-a"] = RuntimeStopped
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Bastion: &fakeBastion{state: BastionRunning}, Images: &fakeImages{ref: "r:1"}})

	_, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.Contains(t, rt.removed, "rdsproxy_cfg-a")
	assert.Len(t, rt.launched, 1)
}

func TestStartLaunchVerificationFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.launchDies = true
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Bastion: &fakeBastion{state: BastionRunning}, Images: &fakeImages{ref: "r:1"}})

	_, err := o.Start(context.Background())
	require.ErrorIs(t, err, ErrLaunchVerificationFailed)
	assert.Len(t, rt.launched, 1)
}

func TestStartRuntimeUnavailable(t *testing.T) {
	rt := newFakeRuntime()
	rt.pingErr = errors.New("cannot connect to the docker daemon")
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt})

	_, err := o.Start(context.Background())
	require.ErrorIs(t, err, ErrRuntimeUnavailable)
}

func TestStartImagePullFailure(t *testing.T) {
	rt := newFakeRuntime()
	o := newOrchestrator(t, "cfg-a.json", Deps{
		Runtime: rt,
		Bastion: &fakeBastion{state: BastionRunning},
		Images:  &fakeImages{err: errors.New("access denied")},
	})

	_, err := o.Start(context.Background())
	require.ErrorIs(t, err, ErrImageAcquisitionFailed)
	assert.Empty(t, rt.launched)
}

func TestStopOnAbsentContainer(t *testing.T) {
	rt := newFakeRuntime()
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt})

	require.NoError(t, o.Stop(context.Background()))
	assert.Equal(t, []string{"rdsproxy_cfg-a"}, rt.stopped)
	assert.Equal(t, []string{"rdsproxy_cfg-a"}, rt.removed)
}

func TestRestartIgnoresStopFailure(t *testing.T) {
	rt := newFakeRuntime()
	rt.stopErr = errors.New("daemon hiccup")
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Bastion: &fakeBastion{state: BastionRunning}, Images: &fakeImages{ref: "r:1"}})

	res, err := o.Restart(context.Background())
	require.NoError(t, err)
	assert.False(t, res.AlreadyRunning)
	assert.Len(t, rt.launched, 1)
}

func TestTestRefusesWhenNotRunning(t *testing.T) {
	rt := newFakeRuntime()
	tester := &fakeTester{report: &TestReport{Database: "appdb"}}
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Tester: tester})

	_, err := o.Test(context.Background())
	require.ErrorIs(t, err, ErrProxyNotRunning)
	assert.Zero(t, tester.runs)
}

func TestTestPassesWithoutDetails(t *testing.T) {
	rt := newFakeRuntime()
	rt.states["rdsproxy_cfg-a"] = RuntimeRunning
	tester := &fakeTester{} // liveness ok, no detail row
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Tester: tester})

	rep, err := o.Test(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rep)
	assert.Equal(t, 1, tester.runs)
}

func TestTestReturnsReport(t *testing.T) {
	rt := newFakeRuntime()
	rt.states["rdsproxy_cfg-a"] = RuntimeRunning
	want := &TestReport{Database: "appdb", User: "app", ServerAddr: "10.0.1.5", ServerPort: "5432", ServerTime: "2026-08-23 10:00:00"}
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Tester: &fakeTester{report: want}})

	rep, err := o.Test(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, rep)
}

func TestStatusIsolatedPerConfiguration(t *testing.T) {
	rt := newFakeRuntime()
	a := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Bastion: &fakeBastion{state: BastionRunning}, Images: &fakeImages{ref: "r:1"}})
	b := newOrchestrator(t, "cfg-b.json", Deps{Runtime: rt})

	_, err := a.Start(context.Background())
	require.NoError(t, err)

	repA, err := a.Status(context.Background())
	require.NoError(t, err)
	repB, err := b.Status(context.Background())
	require.NoError(t, err)

	assert.True(t, repA.Running)
	assert.NotEmpty(t, repA.ConnectionString)
	assert.False(t, repB.Running)
	assert.Empty(t, repB.ConnectionString)
}

func TestStatusRuntimeUnavailable(t *testing.T) {
	rt := newFakeRuntime()
	rt.pingErr = errors.New("no daemon")
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt})

	_, err := o.Status(context.Background())
	require.ErrorIs(t, err, ErrRuntimeUnavailable)
}

func TestStartFailsWhileLockHeld(t *testing.T) {
	rt := newFakeRuntime()
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt, Bastion: &fakeBastion{state: BastionRunning}, Images: &fakeImages{ref: "r:1"}})

	held := flock.New(filepath.Join(o.lockDir, o.name+".lock"))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	ctx, cancel := context.WithTimeout(context.Background(), 750*time.Millisecond)
	defer cancel()
	_, err = o.Start(ctx)
	require.Error(t, err)
	assert.Empty(t, rt.launched, "a contended start must not reach the state machine")

	// Releasing the lock unblocks the next invocation.
	require.NoError(t, held.Unlock())
	res, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, res.AlreadyRunning)
	assert.Len(t, rt.launched, 1)
}

func TestStopFailsWhileLockHeld(t *testing.T) {
	rt := newFakeRuntime()
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt})

	held := flock.New(filepath.Join(o.lockDir, o.name+".lock"))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 750*time.Millisecond)
	defer cancel()
	require.Error(t, o.Stop(ctx))
	assert.Empty(t, rt.stopped)
	assert.Empty(t, rt.removed)
}

func TestLogsStreamToWriter(t *testing.T) {
	rt := newFakeRuntime()
	o := newOrchestrator(t, "cfg-a.json", Deps{Runtime: rt})

	var buf bytes.Buffer
	require.NoError(t, o.Logs(context.Background(), false, &buf))
	assert.Equal(t, "logs of rdsproxy_cfg-a\n", buf.String())
}
