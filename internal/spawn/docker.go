package spawn

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// Label keys used for Warren-managed containers
const (
	LabelProject   = "warren.project"
	LabelTeam      = "warren.team"
	LabelAgentName = "warren.agent.name"
	LabelAgentRole = "warren.agent.role"
)

// stopTimeout is how long a terminated container gets to exit before the
// runner kills it. Forceful termination only happens to agents already
// confirmed unresponsive, so a short grace period is enough.
const stopTimeoutSeconds = 10

// NewDockerClient creates a Docker client and validates the daemon is accessible.
func NewDockerClient(ctx context.Context) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf(`Docker daemon not accessible: %w

Ensure Docker is running:
  • macOS: Docker Desktop
  • Linux: sudo systemctl start docker`, err)
	}
	return cli, nil
}

// DockerRunner spawns agents as long-lived containers sharing the team's
// data directory, so every agent sees the same board through the same
// filesystem locks.
type DockerRunner struct {
	dockerClient *client.Client
	image        string // Default agent image; Identity.Capability overrides per spawn
	dataDir      string // Host path of the shared board directory
	command      []string

	mu     sync.RWMutex
	active map[string]*Process // key: container name
}

// NewDockerRunner creates a runner that mounts dataDir into every agent
// container at /warren/data.
func NewDockerRunner(dockerClient *client.Client, image, dataDir string, command []string) *DockerRunner {
	return &DockerRunner{
		dockerClient: dockerClient,
		image:        image,
		dataDir:      dataDir,
		command:      command,
		active:       make(map[string]*Process),
	}
}

// ContainerName returns the container name for an agent.
func ContainerName(team, agentName string) string {
	return fmt.Sprintf("warren-agent-%s-%s", team, agentName)
}

// Spawn creates and starts an agent container bound to its identity.
func (r *DockerRunner) Spawn(ctx context.Context, id Identity) (*Process, error) {
	image := r.image
	if id.Capability != "" {
		image = id.Capability
	}

	containerConfig := &container.Config{
		Image: image,
		Cmd:   r.command,
		Env: []string{
			fmt.Sprintf("WARREN_AGENT_ID=%s", id.ID),
			fmt.Sprintf("WARREN_AGENT_NAME=%s", id.Name),
			fmt.Sprintf("WARREN_TEAM=%s", id.Team),
			fmt.Sprintf("WARREN_AGENT_ROLE=%s", id.Role),
			"WARREN_DATA_DIR=/warren/data",
		},
		Labels: map[string]string{
			LabelProject:   "true",
			LabelTeam:      id.Team,
			LabelAgentName: id.Name,
			LabelAgentRole: string(id.Role),
		},
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: r.dataDir,
			Target: "/warren/data",
		}},
	}

	name := ContainerName(id.Team, id.Name)
	resp, err := r.dockerClient.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent container %s: %w", name, err)
	}

	if err := r.dockerClient.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		r.dockerClient.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start agent container %s: %w", name, err)
	}

	p := &Process{
		Handle:    resp.ID,
		Identity:  id,
		StartedAt: time.Now().UTC(),
	}
	r.track(p)

	log.Printf("[Spawn] Started agent %s (container %s)", id.ID, resp.ID[:12])
	return p, nil
}

// Terminate stops and removes an agent container. The Docker API accepts the
// container name as well as the id, so callers that never saw the Spawn
// result (the monitor substituting an agent it did not start) may pass a
// process keyed by ContainerName.
func (r *DockerRunner) Terminate(ctx context.Context, p *Process) error {
	timeout := stopTimeoutSeconds
	if err := r.dockerClient.ContainerStop(ctx, p.Handle, container.StopOptions{Timeout: &timeout}); err != nil {
		log.Printf("[Spawn] Failed to stop container %s, forcing removal: %v", p.Handle, err)
	}
	if err := r.dockerClient.ContainerRemove(ctx, p.Handle, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove agent container for %s: %w", p.Identity.ID, err)
	}
	r.untrack(p)

	log.Printf("[Spawn] Terminated agent %s", p.Identity.ID)
	return nil
}

// track records a running process under its container name so Terminate can
// drop it no matter which handle the caller holds.
func (r *DockerRunner) track(p *Process) {
	r.mu.Lock()
	r.active[ContainerName(p.Identity.Team, p.Identity.Name)] = p
	r.mu.Unlock()
}

func (r *DockerRunner) untrack(p *Process) {
	r.mu.Lock()
	delete(r.active, ContainerName(p.Identity.Team, p.Identity.Name))
	r.mu.Unlock()
}

// Active returns the processes this runner currently tracks.
func (r *DockerRunner) Active() []*Process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Process, 0, len(r.active))
	for _, p := range r.active {
		out = append(out, p)
	}
	return out
}
