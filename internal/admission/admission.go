// Package admission implements the risk admission controller.
//
// Every task carries a risk tier, and the controller decides three things
// about it: which roles may claim the task, which other tasks may run at the
// same time, and what evidence is required before the task may be marked
// completed. All admission decisions against the in-flight task set run
// inside the same critical section as the claim itself, so two concurrent
// claims can never both pass the parallel-execution matrix and then both
// land.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/warren/internal/graph"
	"github.com/dyluth/warren/internal/spawn"
	"github.com/dyluth/warren/pkg/board"
)

// ErrGate is the sentinel wrapped by every completion-gate failure.
var ErrGate = errors.New("completion gate not satisfied")

// Approval records a human sign-off. Critical-tier work cannot be admitted
// or completed without one.
type Approval struct {
	By   string    `json:"by"`             // who signed off
	Note string    `json:"note,omitempty"` // optional context
	At   time.Time `json:"at"`             // when the sign-off was given
}

// Evidence reports the checks an agent ran before requesting completion.
// The controller decides which fields matter based on the task's tier.
type Evidence struct {
	ConflictCheckPassed bool      // no conflicting edits against shared state
	TargetedTestsPassed bool      // tests covering the touched surface
	FullSuitePassed     bool      // the entire test suite
	ReviewApproved      bool      // a second agent reviewed the change
	HumanApproval       *Approval // required for critical tier only
}

// GateError reports exactly which requirements were missing when a
// completion request was refused. The task's tier and status are left
// untouched; the agent resolves the gaps and retries.
type GateError struct {
	Tier    board.RiskTier
	Missing []string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("completion gate not satisfied for %s task: missing %s",
		e.Tier, strings.Join(e.Missing, ", "))
}

func (e *GateError) Unwrap() error { return ErrGate }

// Controller enforces tier rules on top of the task graph.
type Controller struct {
	store      board.Store
	graph      *graph.Graph
	team       string
	classifier spawn.Classifier // re-scores red tasks at completion; may be nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithClassifier supplies the external risk classifier used to re-score
// red-tier tasks at completion time. Without one, red tasks keep their tier.
func WithClassifier(c spawn.Classifier) Option {
	return func(ctrl *Controller) { ctrl.classifier = c }
}

// New creates a Controller for a single team. The graph must be bound to the
// same store and team.
func New(store board.Store, g *graph.Graph, team string, opts ...Option) *Controller {
	ctrl := &Controller{store: store, graph: g, team: team}
	for _, opt := range opts {
		opt(ctrl)
	}
	return ctrl
}

// RoleAllowed reports whether a role may claim work at the given tier.
//
//	green:    any role
//	yellow:   write-capable roles
//	red:      full-capability roles
//	critical: architect only
func RoleAllowed(tier board.RiskTier, role board.Role) error {
	switch tier.OrGreen() {
	case board.TierGreen:
		return nil
	case board.TierYellow:
		if !role.CanWrite() {
			return fmt.Errorf("%w: role %q cannot claim yellow-tier work", board.ErrValidation, role)
		}
	case board.TierRed:
		if !role.FullCapability() {
			return fmt.Errorf("%w: role %q cannot claim red-tier work", board.ErrValidation, role)
		}
	case board.TierCritical:
		if role != board.RoleArchitect {
			return fmt.Errorf("%w: role %q cannot claim critical-tier work", board.ErrValidation, role)
		}
	}
	return nil
}

// Compatible reports whether tasks at the two tiers may be in progress at
// the same time. The relation is symmetric: a red task excludes other red
// and all critical work, and a critical task tolerates only green neighbours.
func Compatible(a, b board.RiskTier) bool {
	x, y := a.OrGreen(), b.OrGreen()
	if x.Rank() < y.Rank() {
		x, y = y, x
	}
	switch x {
	case board.TierCritical:
		return y == board.TierGreen
	case board.TierRed:
		return y == board.TierGreen || y == board.TierYellow
	default:
		return true
	}
}

// Claim admits an agent onto a task: the role/tier check, the supervision
// and sign-off requirements, and the parallel-execution matrix against every
// task currently in progress all pass, or nothing changes. On success the
// task is claimed in progress with the claim timestamp and expiry stamped by
// the graph.
func (c *Controller) Claim(ctx context.Context, taskID int, agent board.Agent, human *Approval) (*board.Task, error) {
	task, err := c.graph.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	tier := task.Metadata.RiskTier.OrGreen()

	if err := RoleAllowed(tier, agent.Role); err != nil {
		return nil, err
	}
	if tier == board.TierRed {
		if err := c.checkSupervision(ctx); err != nil {
			return nil, err
		}
	}
	if tier == board.TierCritical && human == nil {
		return nil, fmt.Errorf("%w: critical-tier work requires human sign-off before admission", board.ErrValidation)
	}

	agentID := board.AgentID(agent.Name, c.team)
	inProgress := board.StatusInProgress
	return c.graph.Update(ctx, taskID, graph.UpdateRequest{
		Actor:  agentID,
		Owner:  &agentID,
		Status: &inProgress,
		Guard: func(tasks map[int]*board.Task, target *board.Task) error {
			if target.Owner != "" && target.Owner != agentID {
				return fmt.Errorf("%w: task %d is already claimed by %s",
					board.ErrValidation, target.ID, target.Owner)
			}
			want := target.Metadata.RiskTier.OrGreen()
			for _, other := range tasks {
				if other.ID == target.ID || other.Status != board.StatusInProgress {
					continue
				}
				if !Compatible(want, other.Metadata.RiskTier) {
					return fmt.Errorf("%w: %s task %d cannot run alongside %s task %d",
						board.ErrValidation, want, target.ID,
						other.Metadata.RiskTier.OrGreen(), other.ID)
				}
			}
			return nil
		},
	})
}

// checkSupervision verifies the team lead is healthy. Red-tier work runs
// only under active supervision.
func (c *Controller) checkSupervision(ctx context.Context) error {
	data, err := c.store.Get(ctx, board.TeamKey(c.team))
	if err != nil {
		return fmt.Errorf("loading team %q: %w", c.team, err)
	}
	team, err := board.DecodeTeamConfig(data)
	if err != nil {
		return err
	}
	leadName, _, err := board.SplitAgentID(team.Lead)
	if err != nil {
		return err
	}
	lead := team.Member(leadName)
	if lead == nil || lead.Health.Status != board.HealthHealthy {
		return fmt.Errorf("%w: red-tier work requires a healthy team lead for supervision", board.ErrValidation)
	}
	return nil
}

// Complete applies the tier's completion gate and, if every requirement is
// met, marks the task completed. A refused gate returns a *GateError naming
// the missing requirements and leaves the task's tier and status untouched.
//
// Red tasks are re-scored by the external classifier first; when the
// classifier disagrees downward, the task is downgraded and gated at the
// lower tier.
func (c *Controller) Complete(ctx context.Context, taskID int, actor string, ev Evidence) (*board.Task, error) {
	task, err := c.graph.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	tier := task.Metadata.RiskTier.OrGreen()

	if tier == board.TierRed && c.classifier != nil {
		rescored, err := c.classifier.Classify(ctx, task.Description)
		if err != nil {
			return nil, fmt.Errorf("re-scoring task %d: %w", taskID, err)
		}
		if rescored.OrGreen().Rank() < tier.Rank() {
			log.Printf("[Admission] Task %d re-scored %s -> %s at completion", taskID, tier, rescored.OrGreen())
			tier = rescored.OrGreen()
			if _, err := c.graph.Update(ctx, taskID, graph.UpdateRequest{RiskTier: &tier}); err != nil {
				return nil, err
			}
		}
	}

	if missing := gateGaps(tier, ev); len(missing) > 0 {
		return nil, &GateError{Tier: tier, Missing: missing}
	}

	completed := board.StatusCompleted
	return c.graph.Update(ctx, taskID, graph.UpdateRequest{
		Actor:  actor,
		Status: &completed,
	})
}

// gateGaps returns the unmet completion requirements for a tier, sorted for
// stable error text. Green has no gate.
func gateGaps(tier board.RiskTier, ev Evidence) []string {
	var missing []string
	switch tier {
	case board.TierYellow:
		if !ev.ConflictCheckPassed {
			missing = append(missing, "conflict check")
		}
		if !ev.TargetedTestsPassed {
			missing = append(missing, "targeted tests")
		}
	case board.TierRed, board.TierCritical:
		if !ev.FullSuitePassed {
			missing = append(missing, "full test suite")
		}
		if !ev.ReviewApproved {
			missing = append(missing, "review approval")
		}
		if tier == board.TierCritical && ev.HumanApproval == nil {
			missing = append(missing, "human sign-off")
		}
	}
	sort.Strings(missing)
	return missing
}

// SetTier changes a task's risk tier. Escalation is always allowed.
// De-escalation requires a written justification, which is logged, and
// leaving the critical tier additionally requires a human decision.
func (c *Controller) SetTier(ctx context.Context, taskID int, actor string, tier board.RiskTier, justification string, human *Approval) (*board.Task, error) {
	if err := tier.Validate(); err != nil {
		return nil, err
	}
	task, err := c.graph.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	current := task.Metadata.RiskTier.OrGreen()
	next := tier.OrGreen()

	if next.Rank() < current.Rank() {
		if justification == "" {
			return nil, fmt.Errorf("%w: de-escalating task %d from %s requires a justification", board.ErrValidation, taskID, current)
		}
		if current == board.TierCritical && human == nil {
			return nil, fmt.Errorf("%w: leaving the critical tier requires a human decision", board.ErrValidation)
		}
		log.Printf("[Admission] Task %d de-escalated %s -> %s by %s: %s", taskID, current, next, actor, justification)
	}

	return c.graph.Update(ctx, taskID, graph.UpdateRequest{
		Actor:    actor,
		RiskTier: &next,
	})
}
