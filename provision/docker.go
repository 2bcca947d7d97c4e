package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// ContainerSpec is what the provisioner asks the runtime to create.
type ContainerSpec struct {
	Name          string
	Image         string
	Env           []string
	Labels        map[string]string
	ContainerPort string // e.g. "5432/tcp"
	HostIP        string
	HostPort      int
}

// ContainerState is what the provisioner needs to know about an existing
// container.
type ContainerState struct {
	Exists bool
	// Status is the engine's state name: created, running, paused,
	// restarting, removing, exited or dead.
	Status string
	Labels map[string]string
}

// Stale reports whether the container is a leftover nobody is using.
func (s ContainerState) Stale() bool {
	return s.Exists && (s.Status == "exited" || s.Status == "dead")
}

// errNameConflict is returned by Create when the container name is taken.
var errNameConflict = errors.New("container name already in use")

// Runtime is the container engine surface the provisioner uses.
type Runtime interface {
	EnsureImage(ctx context.Context, ref string) error
	// Inspect reports the state of a container. A missing container gives a
	// zero ContainerState and no error.
	Inspect(ctx context.Context, nameOrID string) (ContainerState, error)
	// Create fails with an error wrapping errNameConflict when spec.Name is
	// taken.
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	Start(ctx context.Context, id string) error
	// Remove force-removes the container and its volumes. A container that
	// does not exist is not an error.
	Remove(ctx context.Context, nameOrID string) error
	Close() error
}

type dockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the Docker daemon from the environment.
func NewDockerRuntime() (Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &dockerRuntime{cli: cli}, nil
}

// EnsureImage pulls ref unless it is already present locally.
func (d *dockerRuntime) EnsureImage(ctx context.Context, ref string) error {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer reader.Close()

	// The pull only completes once its progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	return nil
}

func (d *dockerRuntime) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	port, err := nat.NewPort(nat.SplitProtoPort(spec.ContainerPort))
	if err != nil {
		return "", fmt.Errorf("container port %q: %w", spec.ContainerPort, err)
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: spec.HostIP, HostPort: strconv.Itoa(spec.HostPort)}},
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if cerrdefs.IsConflict(err) {
		return "", fmt.Errorf("create container %s: %w: %v", spec.Name, errNameConflict, err)
	}
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	return resp.ID, nil
}

func (d *dockerRuntime) Inspect(ctx context.Context, nameOrID string) (ContainerState, error) {
	info, err := d.cli.ContainerInspect(ctx, nameOrID)
	if client.IsErrNotFound(err) {
		return ContainerState{}, nil
	}
	if err != nil {
		return ContainerState{}, fmt.Errorf("inspect container %s: %w", nameOrID, err)
	}

	state := ContainerState{Exists: true}
	if info.ContainerJSONBase != nil && info.State != nil {
		state.Status = string(info.State.Status)
	}
	if info.Config != nil {
		state.Labels = info.Config.Labels
	}
	return state, nil
}

func (d *dockerRuntime) Start(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

func (d *dockerRuntime) Remove(ctx context.Context, nameOrID string) error {
	err := d.cli.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container %s: %w", nameOrID, err)
	}
	return nil
}

func (d *dockerRuntime) Close() error {
	return d.cli.Close()
}
