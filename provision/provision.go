// Package provision starts and discards the disposable database a build
// migrates and introspects.
package provision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/ridoystarlord/schemabuild/config"
	"github.com/ridoystarlord/schemabuild/database"
	"github.com/ridoystarlord/schemabuild/errs"
	"github.com/ridoystarlord/schemabuild/logger"
)

const (
	postgresPort = "5432/tcp"
	bindHost     = "127.0.0.1"

	// PortLabel marks containers with the host port they hold.
	PortLabel = "schemabuild.port"
	// RunLabel ties a container to the build invocation that created it.
	RunLabel = "schemabuild.run"

	defaultPollInterval = 500 * time.Millisecond
)

// Prober reports whether the database behind conn accepts connections.
type Prober func(ctx context.Context, conn config.Connection) error

// Option configures a DockerProvisioner.
type Option func(*DockerProvisioner)

// WithProber replaces the readiness check.
func WithProber(p Prober) Option {
	return func(d *DockerProvisioner) { d.probe = p }
}

// WithPollInterval sets the delay between readiness checks.
func WithPollInterval(interval time.Duration) Option {
	return func(d *DockerProvisioner) { d.interval = interval }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(d *DockerProvisioner) { d.log = log }
}

// DockerProvisioner runs the build database in a container bound to a fixed
// host port.
type DockerProvisioner struct {
	runtime  Runtime
	cfg      config.Config
	probe    Prober
	interval time.Duration
	log      *logger.Logger
	runID    string

	mu          sync.Mutex
	containerID string
}

// NewDockerProvisioner creates a provisioner for cfg on top of runtime.
func NewDockerProvisioner(runtime Runtime, cfg config.Config, opts ...Option) *DockerProvisioner {
	d := &DockerProvisioner{
		runtime:  runtime,
		cfg:      cfg,
		probe:    database.Ping,
		interval: defaultPollInterval,
		log:      logger.Nop(),
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start creates and starts the container and blocks until the database
// accepts connections. A busy port fails immediately. If anything fails after
// the container was created, the container is removed before returning.
func (d *DockerProvisioner) Start(ctx context.Context) (config.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.containerID != "" {
		return config.Connection{}, errs.ProvisionFailure("database already started", nil)
	}

	conn := d.cfg.Connection
	name := d.cfg.ContainerNameOrDefault()
	log := d.log.With().Str("container", name).Str("run", d.runID).Int("port", conn.Port).Logger()

	if err := checkPortFree(conn.Port); err != nil {
		return config.Connection{}, errs.ProvisionFailure(fmt.Sprintf("port %d", conn.Port), err)
	}

	log.Infof("Pulling image %s if needed", d.cfg.Image)
	if err := d.runtime.EnsureImage(ctx, d.cfg.Image); err != nil {
		return config.Connection{}, errs.ProvisionFailure("image "+d.cfg.Image, err)
	}

	// A pull can take long enough for another build to claim the port.
	if err := checkPortFree(conn.Port); err != nil {
		return config.Connection{}, errs.ProvisionFailure(fmt.Sprintf("port %d", conn.Port), err)
	}
	if err := d.clearStale(ctx, name, log); err != nil {
		return config.Connection{}, err
	}

	id, err := d.runtime.Create(ctx, ContainerSpec{
		Name:  name,
		Image: d.cfg.Image,
		Env: []string{
			"POSTGRES_DB=" + conn.Database,
			"POSTGRES_USER=" + conn.User,
			"POSTGRES_PASSWORD=" + conn.Password,
		},
		Labels:        map[string]string{PortLabel: strconv.Itoa(conn.Port), RunLabel: d.runID},
		ContainerPort: postgresPort,
		HostIP:        bindHost,
		HostPort:      conn.Port,
	})
	if errors.Is(err, errNameConflict) {
		return config.Connection{}, errs.ProvisionFailure("container "+name, fmt.Errorf("%w: %v", errs.ErrPortInUse, err))
	}
	if err != nil {
		return config.Connection{}, errs.ProvisionFailure("create container", err)
	}

	if err := d.runtime.Start(ctx, id); err != nil {
		d.discard(id, log)
		return config.Connection{}, errs.ProvisionFailure("start container", err)
	}

	if err := d.waitReady(ctx, conn); err != nil {
		d.discard(id, log)
		return config.Connection{}, err
	}

	d.containerID = id
	log.Infof("Database ready at %s", conn.JDBCStyleURL())
	return conn, nil
}

// Stop removes the container. It is safe to call more than once and before
// Start; only the first call after a successful Start does any work.
func (d *DockerProvisioner) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.containerID == "" || d.runtime == nil {
		return nil
	}
	if err := d.runtime.Remove(ctx, d.containerID); err != nil {
		return err
	}
	d.log.Infof("Removed container %s", d.cfg.ContainerNameOrDefault())
	d.containerID = ""
	return nil
}

func (d *DockerProvisioner) waitReady(ctx context.Context, conn config.Connection) error {
	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.StartupTimeout)
	defer cancel()

	var lastErr error
	err := retry.Do(waitCtx, retry.NewConstant(d.interval), func(ctx context.Context) error {
		if err := d.probe(ctx, conn); err != nil {
			lastErr = err
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return errs.ProvisionFailure("waiting for database", ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		cause := errs.ErrStartupTimeout
		if lastErr != nil {
			cause = fmt.Errorf("%w after %s: %v", errs.ErrStartupTimeout, d.cfg.StartupTimeout, lastErr)
		}
		return errs.ProvisionFailure("waiting for database", cause)
	}
	return errs.ProvisionFailure("waiting for database", err)
}

// clearStale removes a leftover container holding name. A container that
// is running or still being set up belongs to another build, so the port
// counts as taken.
func (d *DockerProvisioner) clearStale(ctx context.Context, name string, log *logger.Logger) error {
	state, err := d.runtime.Inspect(ctx, name)
	if err != nil {
		return errs.ProvisionFailure("inspect container "+name, err)
	}
	if !state.Exists {
		return nil
	}
	if !state.Stale() {
		return errs.ProvisionFailure("container "+name,
			fmt.Errorf("%w: container is %s (run %s)", errs.ErrPortInUse, state.Status, state.Labels[RunLabel]))
	}

	log.Infof("Removing stale container %s (%s)", name, state.Status)
	if err := d.runtime.Remove(ctx, name); err != nil {
		return errs.ProvisionFailure("remove stale container "+name, err)
	}
	return nil
}

// discard removes a container that never became usable. It uses its own
// context so a cancelled start still cleans up.
func (d *DockerProvisioner) discard(id string, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.runtime.Remove(ctx, id); err != nil {
		log.With().Err(err).Logger().Warn("failed to remove container after failed start")
	}
}

// checkPortFree fails with ErrPortInUse when something already listens on port.
func checkPortFree(port int) error {
	l, err := net.Listen("tcp", net.JoinHostPort(bindHost, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrPortInUse, err)
	}
	return l.Close()
}
