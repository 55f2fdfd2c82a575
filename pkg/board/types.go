package board

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// nameRe constrains team and agent names to filesystem-safe identifiers.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,63}$`)

// ValidName reports whether s is a valid team or agent name.
func ValidName(s string) bool {
	return nameRe.MatchString(s)
}

// AgentID builds the canonical "name@team" identifier for an agent.
func AgentID(name, team string) string {
	return name + "@" + team
}

// SplitAgentID splits a "name@team" identifier into its parts.
// Returns an error if the identifier is malformed.
func SplitAgentID(id string) (name, team string, err error) {
	parts := strings.Split(id, "@")
	if len(parts) != 2 || !ValidName(parts[0]) || !ValidName(parts[1]) {
		return "", "", fmt.Errorf("%w: malformed agent id %q (expected name@team)", ErrValidation, id)
	}
	return parts[0], parts[1], nil
}

// TaskStatus is the forward-only lifecycle state of a task.
// The numeric values are ordered: a task never moves to a lower-numbered
// status except via explicit deletion.
type TaskStatus int

const (
	// StatusPending indicates the task is waiting to be claimed
	StatusPending TaskStatus = 0

	// StatusInProgress indicates the task is claimed and actively worked
	StatusInProgress TaskStatus = 1

	// StatusCompleted indicates the task finished and passed its completion gate
	StatusCompleted TaskStatus = 2

	// StatusDeleted indicates the task was removed from the graph
	StatusDeleted TaskStatus = 3
)

// String returns the wire name of the status.
func (s TaskStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Validate checks the status is a known value.
func (s TaskStatus) Validate() error {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusDeleted:
		return nil
	default:
		return fmt.Errorf("%w: unknown task status %d", ErrValidation, int(s))
	}
}

// ParseTaskStatus maps a wire name back to its status.
func ParseTaskStatus(name string) (TaskStatus, error) {
	switch name {
	case "pending":
		return StatusPending, nil
	case "in_progress":
		return StatusInProgress, nil
	case "completed":
		return StatusCompleted, nil
	case "deleted":
		return StatusDeleted, nil
	default:
		return 0, fmt.Errorf("%w: unknown task status %q", ErrValidation, name)
	}
}

// RiskTier classifies how much oversight a task's execution and completion
// require. Tiers are externally assigned and strictly ordered.
type RiskTier string

const (
	TierGreen    RiskTier = "GREEN"
	TierYellow   RiskTier = "YELLOW"
	TierRed      RiskTier = "RED"
	TierCritical RiskTier = "CRITICAL"
)

// Rank returns the tier's position in the escalation order (GREEN=0 .. CRITICAL=3).
func (t RiskTier) Rank() int {
	switch t {
	case TierYellow:
		return 1
	case TierRed:
		return 2
	case TierCritical:
		return 3
	default:
		return 0
	}
}

// Validate checks the tier is a known value. The empty tier is valid and
// treated as GREEN everywhere a tier is consumed.
func (t RiskTier) Validate() error {
	switch t {
	case "", TierGreen, TierYellow, TierRed, TierCritical:
		return nil
	default:
		return fmt.Errorf("%w: unknown risk tier %q", ErrValidation, string(t))
	}
}

// OrGreen normalizes the empty (unclassified) tier to GREEN.
func (t RiskTier) OrGreen() RiskTier {
	if t == "" {
		return TierGreen
	}
	return t
}

// ParseRiskTier maps a tier name to its canonical value, accepting any
// casing. The empty string parses to the empty (unclassified) tier.
func ParseRiskTier(name string) (RiskTier, error) {
	tier := RiskTier(strings.ToUpper(name))
	if err := tier.Validate(); err != nil {
		return "", err
	}
	return tier, nil
}

// Checkpoint is a persisted progress snapshot enabling a different agent to
// resume a task after a handoff. The kernel transfers checkpoints verbatim;
// it performs no semantic recovery itself.
type Checkpoint struct {
	Commit          string   `json:"commit,omitempty"`           // Last commit reference
	Files           []string `json:"files,omitempty"`            // Files touched so far
	PercentComplete int      `json:"percent_complete,omitempty"` // Rough progress estimate
	LastAction      string   `json:"last_action,omitempty"`      // Free-text description of the last step taken
}

// TaskMetadata carries claim and risk bookkeeping attached to a task.
type TaskMetadata struct {
	RiskTier           RiskTier    `json:"risk_tier,omitempty"`
	ClaimedAt          time.Time   `json:"claimed_at,omitempty"`           // When the current owner claimed the task
	ClaimExpirySeconds int         `json:"claim_expiry_seconds,omitempty"` // Heartbeat staleness threshold for this claim
	Checkpoint         *Checkpoint `json:"checkpoint,omitempty"`
}

// Task is a node in a team's dependency graph.
// Blocks and BlockedBy are exact symmetric inverses across the graph: task A
// lists B in Blocks if and only if B lists A in BlockedBy.
type Task struct {
	ID          int          `json:"id"`
	Subject     string       `json:"subject"`
	Description string       `json:"description,omitempty"`
	Status      TaskStatus   `json:"status"`
	Owner       string       `json:"owner,omitempty"` // Agent id ("name@team") or empty when unowned
	Blocks      []int        `json:"blocks"`
	BlockedBy   []int        `json:"blocked_by"`
	Metadata    TaskMetadata `json:"metadata"`
}

// Validate checks the task's field values. Edge symmetry is a graph-level
// invariant and is enforced by the graph store, not here.
func (t *Task) Validate() error {
	if t.ID < 1 {
		return fmt.Errorf("%w: task id must be >= 1, got %d", ErrValidation, t.ID)
	}
	if t.Subject == "" {
		return fmt.Errorf("%w: task subject cannot be empty", ErrValidation)
	}
	if err := t.Status.Validate(); err != nil {
		return err
	}
	if err := t.Metadata.RiskTier.Validate(); err != nil {
		return err
	}
	if t.Owner != "" {
		if _, _, err := SplitAgentID(t.Owner); err != nil {
			return err
		}
	}
	return nil
}

// HasBlocker reports whether id appears in the task's blocked_by set.
func (t *Task) HasBlocker(id int) bool {
	for _, b := range t.BlockedBy {
		if b == id {
			return true
		}
	}
	return false
}

// HasBlocked reports whether id appears in the task's blocks set.
func (t *Task) HasBlocked(id int) bool {
	for _, b := range t.Blocks {
		if b == id {
			return true
		}
	}
	return false
}

// Role describes what an agent is equipped to do.
type Role string

const (
	RoleImplementer Role = "implementer"
	RoleResearcher  Role = "researcher"
	RoleTester      Role = "tester"
	RoleReviewer    Role = "reviewer"
	RoleArchitect   Role = "architect"
)

// Validate checks the role is a known value.
func (r Role) Validate() error {
	switch r {
	case RoleImplementer, RoleResearcher, RoleTester, RoleReviewer, RoleArchitect:
		return nil
	default:
		return fmt.Errorf("%w: unknown role %q", ErrValidation, string(r))
	}
}

// CanWrite reports whether the role has write/test capability (required for
// YELLOW-tier work).
func (r Role) CanWrite() bool {
	switch r {
	case RoleImplementer, RoleTester, RoleArchitect:
		return true
	default:
		return false
	}
}

// FullCapability reports whether the role may execute RED-tier work under
// supervision.
func (r Role) FullCapability() bool {
	return r == RoleImplementer || r == RoleArchitect
}

// HealthStatus is the liveness state of an agent, driven by the monitor's
// supervisor state machine. Replaced is terminal.
type HealthStatus string

const (
	// HealthHealthy indicates heartbeats are arriving within the expected window
	HealthHealthy HealthStatus = "healthy"

	// HealthStalled indicates the heartbeat window elapsed and a probe went unanswered
	HealthStalled HealthStatus = "stalled"

	// HealthUnresponsive indicates a second consecutive confirmed stall
	HealthUnresponsive HealthStatus = "unresponsive"

	// HealthReplaced indicates the agent was substituted and will never run again
	HealthReplaced HealthStatus = "replaced"
)

// Validate checks the health status is a known value.
func (h HealthStatus) Validate() error {
	switch h {
	case HealthHealthy, HealthStalled, HealthUnresponsive, HealthReplaced:
		return nil
	default:
		return fmt.Errorf("%w: unknown health status %q", ErrValidation, string(h))
	}
}

// AgentHealth is the liveness record for a single agent.
// It is created at spawn and mutated only by the monitor.
type AgentHealth struct {
	Status           HealthStatus `json:"status"`
	LastHeartbeat    time.Time    `json:"last_heartbeat"`
	LastTaskUpdate   time.Time    `json:"last_task_update,omitempty"`
	StallCount       int          `json:"stall_count"`
	ReplacementCount int          `json:"replacement_count"`
}

// Agent is a fleet member: a long-lived worker process bound to an inbox.
type Agent struct {
	Name   string      `json:"name"` // Unique within the team, matches ^[A-Za-z0-9_-]{1,63}$
	Role   Role        `json:"role"`
	Health AgentHealth `json:"health"`
}

// ID returns the agent's canonical "name@team" identifier.
func (a *Agent) ID(team string) string {
	return AgentID(a.Name, team)
}

// Validate checks the agent's field values.
func (a *Agent) Validate() error {
	if !ValidName(a.Name) {
		return fmt.Errorf("%w: invalid agent name %q", ErrValidation, a.Name)
	}
	if err := a.Role.Validate(); err != nil {
		return err
	}
	if a.Health.Status != "" {
		if err := a.Health.Status.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// MessageType tags the coordination protocol messages exchanged via inboxes.
// Untyped messages (plain agent-to-agent text) carry an empty type.
type MessageType string

const (
	// MessageHeartbeat is the periodic liveness + progress signal
	MessageHeartbeat MessageType = "heartbeat"

	// MessageHealthCheck is an on-demand liveness probe; recipients must
	// answer within the probe window
	MessageHealthCheck MessageType = "health_check"

	// MessageStallAlert is broadcast naming a stalled agent and its released tasks
	MessageStallAlert MessageType = "stall_alert"

	// MessageTaskAssignment notifies an agent it became a task's owner
	MessageTaskAssignment MessageType = "task_assignment"

	// MessageShutdownRequest asks an agent to finish in-flight work and stop
	MessageShutdownRequest MessageType = "shutdown_request"

	// MessageShutdownResponse is the explicit approval that must precede termination
	MessageShutdownResponse MessageType = "shutdown_response"
)

// Validate checks the message type is known. The empty type is valid.
func (m MessageType) Validate() error {
	switch m {
	case "", MessageHeartbeat, MessageHealthCheck, MessageStallAlert,
		MessageTaskAssignment, MessageShutdownRequest, MessageShutdownResponse:
		return nil
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrValidation, string(m))
	}
}

// Message is a single entry in an agent's inbox.
type Message struct {
	ID        string      `json:"id"` // UUID
	From      string      `json:"from"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
	Read      bool        `json:"read"`
	Type      MessageType `json:"type,omitempty"`
	Summary   string      `json:"summary,omitempty"`
}

// Validate checks the message's field values.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: message id cannot be empty", ErrValidation)
	}
	if m.From == "" {
		return fmt.Errorf("%w: message sender cannot be empty", ErrValidation)
	}
	return m.Type.Validate()
}

// TeamConfig is the membership roster for one team.
// It is written atomically: every reader sees either the full old or full
// new version, never a mix.
type TeamConfig struct {
	Name    string  `json:"name"`
	Lead    string  `json:"lead"` // Agent id ("name@team") of the distinguished coordinator
	Members []Agent `json:"members"`
}

// Validate checks the roster's structural invariants: valid names, a lead
// that is a member, and exactly one lead.
func (tc *TeamConfig) Validate() error {
	if !ValidName(tc.Name) {
		return fmt.Errorf("%w: invalid team name %q", ErrValidation, tc.Name)
	}
	if tc.Lead == "" {
		return fmt.Errorf("%w: team %q has no lead", ErrValidation, tc.Name)
	}
	leadName, leadTeam, err := SplitAgentID(tc.Lead)
	if err != nil {
		return err
	}
	if leadTeam != tc.Name {
		return fmt.Errorf("%w: lead %q does not belong to team %q", ErrValidation, tc.Lead, tc.Name)
	}

	seen := make(map[string]bool, len(tc.Members))
	leadFound := false
	for i := range tc.Members {
		m := &tc.Members[i]
		if err := m.Validate(); err != nil {
			return fmt.Errorf("member %q: %w", m.Name, err)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: duplicate agent name %q in team %q", ErrValidation, m.Name, tc.Name)
		}
		seen[m.Name] = true
		if m.Name == leadName {
			leadFound = true
		}
	}
	if !leadFound {
		return fmt.Errorf("%w: lead %q is not a member of team %q", ErrValidation, tc.Lead, tc.Name)
	}
	return nil
}

// Member returns the roster entry for the named agent, or nil.
func (tc *TeamConfig) Member(name string) *Agent {
	for i := range tc.Members {
		if tc.Members[i].Name == name {
			return &tc.Members[i]
		}
	}
	return nil
}
