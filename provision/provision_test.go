package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridoystarlord/schemabuild/config"
	"github.com/ridoystarlord/schemabuild/errs"
)

type fakeRuntime struct {
	mu        sync.Mutex
	calls     []string
	created   []ContainerSpec
	removed   []string
	states    map[string]ContainerState
	pullErr   error
	createErr error
	startErr  error
	removeErr error

	// onPull runs inside EnsureImage, after the call is recorded.
	onPull func()
	// bind makes Start listen on the host port like the engine would.
	bind      bool
	listeners map[string]net.Listener
}

func (f *fakeRuntime) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRuntime) EnsureImage(_ context.Context, ref string) error {
	f.record("pull " + ref)
	if f.onPull != nil {
		f.onPull()
	}
	return f.pullErr
}

func (f *fakeRuntime) Inspect(_ context.Context, nameOrID string) (ContainerState, error) {
	f.record("inspect " + nameOrID)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[nameOrID], nil
}

func (f *fakeRuntime) Create(_ context.Context, spec ContainerSpec) (string, error) {
	f.record("create " + spec.Name)
	if f.createErr != nil {
		return "", f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, spec)
	return "cid-1", nil
}

func (f *fakeRuntime) Start(_ context.Context, id string) error {
	f.record("start " + id)
	if f.startErr != nil {
		return f.startErr
	}
	if !f.bind {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	spec := f.created[len(f.created)-1]
	l, err := net.Listen("tcp", net.JoinHostPort(spec.HostIP, strconv.Itoa(spec.HostPort)))
	if err != nil {
		return err
	}
	if f.listeners == nil {
		f.listeners = map[string]net.Listener{}
	}
	f.listeners[id] = l
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, nameOrID string) error {
	f.record("remove " + nameOrID)
	if f.removeErr != nil && nameOrID == "cid-1" {
		return f.removeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, nameOrID)
	if l, ok := f.listeners[nameOrID]; ok {
		_ = l.Close()
		delete(f.listeners, nameOrID)
	}
	return nil
}

func (f *fakeRuntime) Close() error { return nil }

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func testConfig(port int) config.Config {
	cfg := config.Defaults()
	cfg.Connection.Port = port
	cfg.StartupTimeout = 2 * time.Second
	return cfg
}

func readyProber(context.Context, config.Connection) error { return nil }

func TestStart_Success(t *testing.T) {
	port := freePort(t)
	rt := &fakeRuntime{}
	p := NewDockerProvisioner(rt, testConfig(port), WithProber(readyProber))

	conn, err := p.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, port, conn.Port)
	assert.Equal(t, "postgres", conn.Database)

	require.Len(t, rt.created, 1)
	spec := rt.created[0]
	assert.Equal(t, "postgres:14.4-alpine", spec.Image)
	assert.Equal(t, "5432/tcp", spec.ContainerPort)
	assert.Equal(t, "127.0.0.1", spec.HostIP)
	assert.Equal(t, port, spec.HostPort)
	assert.Contains(t, spec.Env, "POSTGRES_DB=postgres")
	assert.Contains(t, spec.Env, "POSTGRES_USER=postgres")
	assert.Contains(t, spec.Env, "POSTGRES_PASSWORD=postgres")
	assert.NotEmpty(t, spec.Labels[PortLabel])
	assert.Len(t, spec.Labels[RunLabel], 36)

	name := testConfig(port).ContainerNameOrDefault()
	assert.Equal(t, []string{
		"pull postgres:14.4-alpine",
		"inspect " + name,
		"create " + name,
		"start cid-1",
	}, rt.calls)
}

func TestStart_RemovesStaleContainer(t *testing.T) {
	for _, status := range []string{"exited", "dead"} {
		t.Run(status, func(t *testing.T) {
			cfg := testConfig(freePort(t))
			name := cfg.ContainerNameOrDefault()
			rt := &fakeRuntime{states: map[string]ContainerState{
				name: {Exists: true, Status: status, Labels: map[string]string{RunLabel: "earlier-run"}},
			}}
			p := NewDockerProvisioner(rt, cfg, WithProber(readyProber))

			_, err := p.Start(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{
				"pull postgres:14.4-alpine",
				"inspect " + name,
				"remove " + name,
				"create " + name,
				"start cid-1",
			}, rt.calls)
		})
	}
}

func TestStart_LiveContainerCountsAsPortInUse(t *testing.T) {
	for _, status := range []string{"running", "created", "restarting", "paused"} {
		t.Run(status, func(t *testing.T) {
			cfg := testConfig(freePort(t))
			name := cfg.ContainerNameOrDefault()
			rt := &fakeRuntime{states: map[string]ContainerState{
				name: {Exists: true, Status: status, Labels: map[string]string{RunLabel: "other-run"}},
			}}
			p := NewDockerProvisioner(rt, cfg, WithProber(readyProber))

			_, err := p.Start(context.Background())
			require.Error(t, err)
			assert.True(t, errs.IsProvisionFailure(err))
			assert.ErrorIs(t, err, errs.ErrPortInUse)
			assert.Contains(t, err.Error(), "other-run")
			assert.Empty(t, rt.removed, "another build's container is left alone")
			assert.Empty(t, rt.created)
		})
	}
}

func TestStart_NameConflictCountsAsPortInUse(t *testing.T) {
	rt := &fakeRuntime{createErr: fmt.Errorf("create container x: %w", errNameConflict)}
	p := NewDockerProvisioner(rt, testConfig(freePort(t)), WithProber(readyProber))

	_, err := p.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPortInUse)
	assert.Empty(t, rt.removed)
}

func TestStart_PortTakenDuringPull(t *testing.T) {
	port := freePort(t)
	var taken net.Listener
	rt := &fakeRuntime{onPull: func() {
		l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		require.NoError(t, err)
		taken = l
	}}
	p := NewDockerProvisioner(rt, testConfig(port), WithProber(readyProber))

	_, err := p.Start(context.Background())
	require.NotNil(t, taken)
	defer taken.Close()

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPortInUse)
	assert.Equal(t, []string{"pull postgres:14.4-alpine"}, rt.calls)
}

func TestStart_ConcurrentBuildsOnOnePort(t *testing.T) {
	cfg := testConfig(freePort(t))
	name := cfg.ContainerNameOrDefault()

	pulling := make(chan struct{})
	release := make(chan struct{})
	slowRT := &fakeRuntime{onPull: func() {
		close(pulling)
		<-release
	}}
	fastRT := &fakeRuntime{bind: true}

	slow := NewDockerProvisioner(slowRT, cfg, WithProber(readyProber))
	fast := NewDockerProvisioner(fastRT, cfg, WithProber(readyProber))

	slowErr := make(chan error, 1)
	go func() {
		_, err := slow.Start(context.Background())
		slowErr <- err
	}()

	<-pulling
	_, err := fast.Start(context.Background())
	require.NoError(t, err)
	defer fast.Stop(context.Background())

	close(release)
	err = <-slowErr
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPortInUse)
	assert.NotContains(t, slowRT.calls, "remove "+name)
	assert.Empty(t, slowRT.created)
	assert.Empty(t, fastRT.removed, "the first build's container survives")
}

func TestStart_PortInUseFailsFast(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	rt := &fakeRuntime{}
	p := NewDockerProvisioner(rt, testConfig(l.Addr().(*net.TCPAddr).Port), WithProber(readyProber))

	_, err = p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsProvisionFailure(err))
	assert.ErrorIs(t, err, errs.ErrPortInUse)
	assert.Empty(t, rt.calls, "nothing touches the runtime when the port is taken")
}

func TestStart_PullFailure(t *testing.T) {
	rt := &fakeRuntime{pullErr: errors.New("manifest unknown")}
	p := NewDockerProvisioner(rt, testConfig(freePort(t)), WithProber(readyProber))

	_, err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsProvisionFailure(err))
	assert.Contains(t, err.Error(), "manifest unknown")
	assert.Empty(t, rt.created)
}

func TestStart_StartFailureRemovesContainer(t *testing.T) {
	rt := &fakeRuntime{startErr: errors.New("port is already allocated")}
	p := NewDockerProvisioner(rt, testConfig(freePort(t)), WithProber(readyProber))

	_, err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsProvisionFailure(err))
	assert.Contains(t, rt.removed, "cid-1")

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, "remove cid-1", rt.calls[len(rt.calls)-1], "Stop after a failed Start does nothing")
}

func TestStart_StartupTimeout(t *testing.T) {
	rt := &fakeRuntime{}
	cfg := testConfig(freePort(t))
	cfg.StartupTimeout = 50 * time.Millisecond

	probes := 0
	p := NewDockerProvisioner(rt, cfg,
		WithPollInterval(5*time.Millisecond),
		WithProber(func(context.Context, config.Connection) error {
			probes++
			return errors.New("connection refused")
		}),
	)

	_, err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsProvisionFailure(err))
	assert.ErrorIs(t, err, errs.ErrStartupTimeout)
	assert.Greater(t, probes, 1)
	assert.Contains(t, rt.removed, "cid-1")
}

func TestStart_BecomesReadyAfterRetries(t *testing.T) {
	rt := &fakeRuntime{}
	attempts := 0
	p := NewDockerProvisioner(rt, testConfig(freePort(t)),
		WithPollInterval(time.Millisecond),
		WithProber(func(context.Context, config.Connection) error {
			attempts++
			if attempts < 3 {
				return errors.New("the database system is starting up")
			}
			return nil
		}),
	)

	_, err := p.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.NotContains(t, rt.removed, "cid-1")
}

func TestStart_Twice(t *testing.T) {
	p := NewDockerProvisioner(&fakeRuntime{}, testConfig(freePort(t)), WithProber(readyProber))

	_, err := p.Start(context.Background())
	require.NoError(t, err)
	_, err = p.Start(context.Background())
	assert.True(t, errs.IsProvisionFailure(err))
}

func TestStop_Idempotent(t *testing.T) {
	rt := &fakeRuntime{}
	p := NewDockerProvisioner(rt, testConfig(freePort(t)), WithProber(readyProber))

	require.NoError(t, p.Stop(context.Background()), "stop before start is a no-op")

	_, err := p.Start(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Stop(context.Background()))

	count := 0
	for _, id := range rt.removed {
		if id == "cid-1" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestStop_ReturnsRuntimeError(t *testing.T) {
	rt := &fakeRuntime{}
	p := NewDockerProvisioner(rt, testConfig(freePort(t)), WithProber(readyProber))
	_, err := p.Start(context.Background())
	require.NoError(t, err)

	rt.removeErr = errors.New("daemon unreachable")
	assert.Error(t, p.Stop(context.Background()))
}
