// Package spawn defines the external collaborator ports the kernel depends
// on: starting a worker process bound to an identity, terminating one, and
// classifying a task's risk tier. Production wiring uses the Docker runner;
// tests inject fakes.
package spawn

import (
	"context"
	"time"

	"github.com/dyluth/warren/pkg/board"
)

// Identity describes the agent a spawned process must bind to.
type Identity struct {
	ID         string     // Canonical "name@team" agent id
	Name       string     // Agent name, unique within the team
	Team       string     // Team name
	Role       board.Role // Role determines which work the agent may admit
	Capability string     // Free-text capability hint for the runner (image tag, model, ...)
}

// Process is a running worker bound to its identity and inbox.
type Process struct {
	Handle    string // Runner-specific identifier (container id, pid, ...)
	Identity  Identity
	StartedAt time.Time
}

// Spawner starts a new worker process bound to an identity.
type Spawner interface {
	Spawn(ctx context.Context, id Identity) (*Process, error)
}

// Terminator forcefully stops a worker process. Reserved for
// confirmed-unresponsive agents; cooperative shutdown goes through the
// two-phase inbox protocol instead.
type Terminator interface {
	Terminate(ctx context.Context, p *Process) error
}

// Runner combines both process primitives.
type Runner interface {
	Spawner
	Terminator
}

// Classifier maps a task description to a risk tier. It is treated as an
// oracle: the kernel never second-guesses the tier it returns.
type Classifier interface {
	Classify(ctx context.Context, description string) (board.RiskTier, error)
}
