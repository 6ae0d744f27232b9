package runtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/stagehand-sh/stagehand/internal/helpers"
	"github.com/stagehand-sh/stagehand/internal/stack"
)

// Container labels used to tie containers back to stack units.
const (
	LabelRole        = "sh.stagehand.role"
	LabelUnit        = "sh.stagehand.unit"
	LabelEnvironment = "sh.stagehand.environment"
	LabelTag         = "sh.stagehand.tag"
	LabelPort        = "sh.stagehand.port"
	LabelHealthPath  = "sh.stagehand.health_path"

	UnitLabelRole = "unit"

	DockerNetwork = "stagehand"
)

const stopTimeoutSeconds = 20

// DockerRuntime implements Runtime against the local Docker daemon.
type DockerRuntime struct {
	cli         *client.Client
	environment string
	registry    string
}

// NewDockerRuntime creates a Docker-backed runtime and verifies the
// daemon is reachable.
func NewDockerRuntime(ctx context.Context, environment, registry string) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to Docker daemon: %w", err)
	}
	return &DockerRuntime{cli: cli, environment: environment, registry: registry}, nil
}

func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

func (r *DockerRuntime) unitFilters(unit string) filters.Args {
	args := filters.NewArgs()
	args.Add("label", fmt.Sprintf("%s=%s", LabelRole, UnitLabelRole))
	args.Add("label", fmt.Sprintf("%s=%s", LabelEnvironment, r.environment))
	if unit != "" {
		args.Add("label", fmt.Sprintf("%s=%s", LabelUnit, unit))
	}
	return args
}

// Stop stops the unit's running containers. No containers is a success,
// the caller treats already-stopped as stopped.
func (r *DockerRuntime) Stop(ctx context.Context, unit string) error {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		Filters: r.unitFilters(unit),
		All:     false, // Only running containers
	})
	if err != nil {
		return fmt.Errorf("failed to list containers for unit %s: %w", unit, err)
	}
	timeout := stopTimeoutSeconds
	for _, c := range containers {
		if err := r.cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			return fmt.Errorf("failed to stop container for unit %s: %w", unit, err)
		}
	}
	return nil
}

// Remove force-removes the unit's containers, running or not.
func (r *DockerRuntime) Remove(ctx context.Context, unit string) error {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		Filters: r.unitFilters(unit),
		All:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to list containers for unit %s: %w", unit, err)
	}
	for _, c := range containers {
		if err := r.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("failed to remove container for unit %s: %w", unit, err)
		}
	}
	return nil
}

// Pull fetches an image and drains the daemon's progress stream so the
// pull completes before returning.
func (r *DockerRuntime) Pull(ctx context.Context, imageRef string) error {
	reader, err := r.cli.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read pull progress for %s: %w", imageRef, err)
	}
	return nil
}

// Start creates and starts a container for every unit of the descriptor
// at the given tag. The first failure aborts the start.
func (r *DockerRuntime) Start(ctx context.Context, desc stack.Descriptor, tag string) error {
	if err := r.ensureNetwork(ctx); err != nil {
		return err
	}
	for _, unit := range desc.Units {
		if err := r.startUnit(ctx, unit, tag); err != nil {
			return err
		}
	}
	return nil
}

func (r *DockerRuntime) startUnit(ctx context.Context, unit stack.Unit, tag string) error {
	labels := map[string]string{
		LabelRole:        UnitLabelRole,
		LabelUnit:        unit.Name,
		LabelEnvironment: r.environment,
		LabelTag:         tag,
	}
	if unit.Port != "" {
		labels[LabelPort] = unit.Port
	}
	if unit.HealthPath != "" {
		labels[LabelHealthPath] = unit.HealthPath
	}

	var envVars []string
	for k, v := range unit.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", k, v))
	}

	containerConfig := &container.Config{
		Image:  unit.ImageRef(r.registry, tag),
		Labels: labels,
		Env:    envVars,
	}
	hostConfig := &container.HostConfig{
		NetworkMode:   container.NetworkMode(DockerNetwork),
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}

	containerName := fmt.Sprintf("%s-%s-%s", r.environment, unit.Name, helpers.SanitizeName(tag))
	resp, err := r.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("failed to create container for unit %s: %w", unit.Name, err)
	}

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Remove the created container so a failed start leaves nothing behind.
		if removeErr := r.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			return fmt.Errorf("failed to start container for unit %s: %w (cleanup also failed: %v)", unit.Name, err, removeErr)
		}
		return fmt.Errorf("failed to start container for unit %s: %w", unit.Name, err)
	}
	return nil
}

// InspectHealth reports a unit's liveness. Containers with a Docker
// healthcheck report its status; containers without one get a single
// HTTP probe against the health path label, falling back to Unknown
// when no probe is configured.
func (r *DockerRuntime) InspectHealth(ctx context.Context, unit string) (Health, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		Filters: r.unitFilters(unit),
		All:     true,
	})
	if err != nil {
		return Unknown, fmt.Errorf("failed to list containers for unit %s: %w", unit, err)
	}
	if len(containers) == 0 {
		return Unhealthy, nil
	}

	info, err := r.cli.ContainerInspect(ctx, containers[0].ID)
	if err != nil {
		return Unknown, fmt.Errorf("failed to inspect container for unit %s: %w", unit, err)
	}
	if info.State == nil || !info.State.Running {
		return Unhealthy, nil
	}

	if info.State.Health != nil {
		switch info.State.Health.Status {
		case "healthy":
			return Healthy, nil
		case "unhealthy":
			return Unhealthy, nil
		default: // "starting"
			return Unknown, nil
		}
	}

	return r.probeHTTP(ctx, info)
}

func (r *DockerRuntime) probeHTTP(ctx context.Context, info container.InspectResponse) (Health, error) {
	port := info.Config.Labels[LabelPort]
	healthPath := info.Config.Labels[LabelHealthPath]
	if port == "" || healthPath == "" {
		// Running with no way to probe deeper.
		return Unknown, nil
	}

	netInfo, ok := info.NetworkSettings.Networks[DockerNetwork]
	if !ok || netInfo.IPAddress == "" {
		return Unknown, fmt.Errorf("container has no IP address on network %s", DockerNetwork)
	}

	url := fmt.Sprintf("http://%s:%s%s", netInfo.IPAddress, port, healthPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Unknown, fmt.Errorf("failed to create health probe request: %w", err)
	}
	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return Unhealthy, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Healthy, nil
	}
	return Unhealthy, nil
}

// Inventory lists the currently running units of this environment.
func (r *DockerRuntime) Inventory(ctx context.Context) ([]UnitState, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		Filters: r.unitFilters(""),
		All:     false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list running containers: %w", err)
	}
	states := make([]UnitState, 0, len(containers))
	for _, c := range containers {
		states = append(states, UnitState{
			Name:        c.Labels[LabelUnit],
			ImageRef:    c.Image,
			ContainerID: c.ID,
		})
	}
	return states, nil
}

func (r *DockerRuntime) ensureNetwork(ctx context.Context) error {
	networks, err := r.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}
	for _, n := range networks {
		if n.Name == DockerNetwork {
			return nil
		}
	}
	if _, err := r.cli.NetworkCreate(ctx, DockerNetwork, network.CreateOptions{Driver: "bridge"}); err != nil {
		return fmt.Errorf("failed to create network %s: %w", DockerNetwork, err)
	}
	return nil
}
