// Package monitor implements the team health monitor and recovery
// controller. It runs next to the team lead, watches every member's
// heartbeat stream, probes agents that have gone quiet, releases the work of
// confirmed-stalled agents back to the pool, and substitutes agents that
// stay silent through two consecutive probe windows. The monitor never
// blocks the team on a dead agent: it replaces rather than waits.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"time"

	"github.com/dyluth/warren/internal/graph"
	"github.com/dyluth/warren/internal/inbox"
	"github.com/dyluth/warren/internal/roster"
	"github.com/dyluth/warren/internal/spawn"
	"github.com/dyluth/warren/pkg/board"
)

const (
	// DefaultPollInterval is how often the monitor sweeps the roster.
	DefaultPollInterval = 60 * time.Second

	// DefaultProbeWindow is how long a probed agent has to answer with a
	// heartbeat before the stall is confirmed.
	DefaultProbeWindow = 30 * time.Second

	// Name is the reserved inbox the monitor reads. Agents address their
	// heartbeats and probe answers here.
	Name = "monitor"

	// maxLineageReplacements caps how often one agent lineage is replaced.
	// After the second substitution the failure is treated as permanent and
	// escalated to the team lead instead.
	maxLineageReplacements = 2

	// transientRetries caps retries for failures triaged as transient.
	transientRetries = 2
)

// Monitor supervises one team.
type Monitor struct {
	store  board.Store
	graph  *graph.Graph
	inbox  *inbox.Service
	roster *roster.Registry
	runner spawn.Runner // nil when agents run out-of-band
	team   string

	pollInterval time.Duration
	probeWindow  time.Duration
	now          func() time.Time

	// probes tracks when each outstanding health_check was sent,
	// keyed by agent name. Monitor state only, never persisted.
	probes map[string]time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithRunner wires the process runner used to terminate and respawn agents.
func WithRunner(r spawn.Runner) Option {
	return func(m *Monitor) { m.runner = r }
}

// WithPollInterval overrides the sweep interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) { m.pollInterval = d }
}

// WithProbeWindow overrides the probe answer window.
func WithProbeWindow(d time.Duration) Option {
	return func(m *Monitor) { m.probeWindow = d }
}

// WithClock overrides the time source. Tests use this to step through probe
// windows without sleeping.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor for one team. The graph, inbox service, and registry
// must all be bound to the same store.
func New(store board.Store, g *graph.Graph, ib *inbox.Service, reg *roster.Registry, team string, opts ...Option) *Monitor {
	m := &Monitor{
		store:        store,
		graph:        g,
		inbox:        ib,
		roster:       reg,
		team:         team,
		pollInterval: DefaultPollInterval,
		probeWindow:  DefaultProbeWindow,
		now:          time.Now,
		probes:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run sweeps the roster until the context is cancelled. One sweep runs
// immediately on startup.
func (m *Monitor) Run(ctx context.Context) error {
	log.Printf("[Monitor] Starting for team %s (poll: %v, probe window: %v)", m.team, m.pollInterval, m.probeWindow)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	if err := m.Cycle(ctx); err != nil {
		log.Printf("[Monitor] Sweep failed: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Monitor] Shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := m.Cycle(ctx); err != nil {
				log.Printf("[Monitor] Sweep failed: %v", err)
			}
		}
	}
}

// Cycle runs one monitoring sweep: ingest heartbeats, step every non-replaced
// member through the supervisor, and execute the resulting actions. Failures
// on one member never stop the sweep over the others.
func (m *Monitor) Cycle(ctx context.Context) error {
	if err := m.ingestHeartbeats(ctx); err != nil {
		return fmt.Errorf("ingesting heartbeats: %w", err)
	}

	team, err := m.roster.Get(ctx, m.team)
	if err != nil {
		return fmt.Errorf("loading roster: %w", err)
	}
	tasks, err := m.graph.List(ctx)
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}

	now := m.now()
	for i := range team.Members {
		member := team.Members[i]
		if member.Health.Status == board.HealthReplaced {
			continue
		}

		elapsed := now.Sub(lastActivity(member.Health))
		threshold := stalenessThreshold(tasks, board.AgentID(member.Name, m.team))
		probe := m.probeState(member, now)

		next, action := NextState(member.Health.Status, elapsed, threshold, probe)
		if action == ActionNone {
			if probe == ProbeAnswered {
				delete(m.probes, member.Name)
			}
			continue
		}
		log.Printf("[Monitor] Agent %s: %s -> %s (elapsed %v of %v), action=%s",
			member.Name, member.Health.Status, next, elapsed.Truncate(time.Second), threshold, action)

		if err := m.execute(ctx, member, action); err != nil {
			log.Printf("[Monitor] Recovery action %s for %s failed (%s): %v",
				action, member.Name, Triage(err), err)
		}
	}
	return nil
}

// ingestHeartbeats drains the monitor inbox and folds heartbeat timestamps
// into the roster's health records.
func (m *Monitor) ingestHeartbeats(ctx context.Context) error {
	msgs, err := m.inbox.Read(ctx, m.team, Name, inbox.ReadOptions{UnreadOnly: true, MarkRead: true})
	if err != nil {
		if board.IsNotFound(err) {
			return nil // nothing has written to the monitor inbox yet
		}
		return err
	}
	for _, msg := range msgs {
		if msg.Type != board.MessageHeartbeat {
			continue
		}
		name, team, err := board.SplitAgentID(msg.From)
		if err != nil || team != m.team {
			continue
		}
		hb, err := inbox.ParseHeartbeat(msg)
		if err != nil {
			log.Printf("[Monitor] Dropping malformed heartbeat from %s: %v", msg.From, err)
			continue
		}
		_, err = m.roster.UpdateHealth(ctx, m.team, name, func(h *board.AgentHealth) {
			if msg.Timestamp.After(h.LastHeartbeat) {
				h.LastHeartbeat = msg.Timestamp
			}
			if hb.TaskID != 0 && msg.Timestamp.After(h.LastTaskUpdate) {
				h.LastTaskUpdate = msg.Timestamp
			}
		})
		if err != nil && !board.IsNotFound(err) && !board.IsValidation(err) {
			return err
		}
	}
	return nil
}

// probeState resolves the Probe value for one member at sweep time.
func (m *Monitor) probeState(member board.Agent, now time.Time) Probe {
	sentAt, ok := m.probes[member.Name]
	if !ok {
		return ProbeNone
	}
	if lastActivity(member.Health).After(sentAt) {
		return ProbeAnswered
	}
	if now.Sub(sentAt) > m.probeWindow {
		return ProbeExpired
	}
	return ProbePending
}

func (m *Monitor) execute(ctx context.Context, member board.Agent, action Action) error {
	switch action {
	case ActionProbe:
		return m.probe(ctx, member)
	case ActionMarkHealthy:
		return m.markHealthy(ctx, member)
	case ActionRecover:
		return m.recover(ctx, member)
	case ActionReplace:
		return m.replace(ctx, member)
	default:
		return nil
	}
}

func (m *Monitor) probe(ctx context.Context, member board.Agent) error {
	msg := inbox.NewHealthCheck(board.AgentID(Name, m.team))
	if err := m.inbox.Send(ctx, m.team, member.Name, msg); err != nil {
		return fmt.Errorf("probing %s: %w", member.Name, err)
	}
	m.probes[member.Name] = m.now()
	return nil
}

func (m *Monitor) markHealthy(ctx context.Context, member board.Agent) error {
	delete(m.probes, member.Name)
	_, err := m.roster.UpdateHealth(ctx, m.team, member.Name, func(h *board.AgentHealth) {
		h.Status = board.HealthHealthy
	})
	return err
}

// recover handles a first confirmed stall: the agent's in-flight work goes
// back to the pool with checkpoints intact, the team hears about it, and the
// agent is marked stalled.
func (m *Monitor) recover(ctx context.Context, member board.Agent) error {
	delete(m.probes, member.Name)
	agentID := board.AgentID(member.Name, m.team)

	released, err := m.graph.ReleaseOwned(ctx, agentID)
	if err != nil {
		return fmt.Errorf("releasing tasks of %s: %w", agentID, err)
	}
	if _, err := m.roster.UpdateHealth(ctx, m.team, member.Name, func(h *board.AgentHealth) {
		h.Status = board.HealthStalled
		h.StallCount++
	}); err != nil {
		return err
	}
	log.Printf("[Monitor] Agent %s confirmed stalled, released %d task(s): %v", agentID, len(released), released)

	alert := inbox.NewStallAlert(board.AgentID(Name, m.team), inbox.StallAlert{Agent: agentID, Released: released})
	if err := m.inbox.Broadcast(ctx, m.team, Name, alert); err != nil {
		// Partial delivery stands; the released tasks are already visible
		// on the board, so undelivered alerts are not retried.
		var berr *inbox.BroadcastError
		if errors.As(err, &berr) {
			log.Printf("[Monitor] Stall alert partially delivered: %v", berr)
			return nil
		}
		return err
	}
	return nil
}

// replace substitutes an unresponsive agent: terminate the old process,
// spawn a fresh identity with the same role, hand it the released work with
// its checkpoints, and retire the old identity for good. A lineage that has
// already burned through its replacement budget is escalated to the team
// lead instead of respawned.
func (m *Monitor) replace(ctx context.Context, member board.Agent) error {
	delete(m.probes, member.Name)
	agentID := board.AgentID(member.Name, m.team)

	if _, err := m.roster.UpdateHealth(ctx, m.team, member.Name, func(h *board.AgentHealth) {
		h.Status = board.HealthUnresponsive
	}); err != nil && !board.IsValidation(err) {
		return err
	}

	// Work first: nothing below may leave the old agent's claims live.
	released, err := m.graph.ReleaseOwned(ctx, agentID)
	if err != nil {
		return fmt.Errorf("releasing tasks of %s: %w", agentID, err)
	}

	if m.runner != nil {
		proc := &spawn.Process{
			Handle:   spawn.ContainerName(m.team, member.Name),
			Identity: spawn.Identity{ID: agentID, Name: member.Name, Team: m.team, Role: member.Role},
		}
		if err := withRetry(ctx, func(ctx context.Context) error {
			return m.runner.Terminate(ctx, proc)
		}); err != nil {
			log.Printf("[Monitor] Terminating %s failed (%s), continuing with substitution: %v", agentID, Triage(err), err)
		}
	}

	gen := lineageGeneration(member.Name) + 1
	if gen > maxLineageReplacements {
		return m.escalate(ctx, member, released)
	}
	newName := replacementName(member.Name, gen)
	newID := board.AgentID(newName, m.team)

	if _, err := m.roster.AddMember(ctx, m.team, newName, member.Role); err != nil {
		// A duplicate means an earlier substitution attempt got this far
		// before failing; reuse the registration.
		if !board.IsValidation(err) {
			return fmt.Errorf("registering replacement %s: %w", newID, err)
		}
	}
	if m.runner != nil {
		err := withRetry(ctx, func(ctx context.Context) error {
			_, err := m.runner.Spawn(ctx, spawn.Identity{ID: newID, Name: newName, Team: m.team, Role: member.Role})
			return err
		})
		if err != nil {
			return fmt.Errorf("spawning replacement %s: %w", newID, err)
		}
	}

	// The released tasks carry their checkpoints; assigning them claims
	// them for the replacement so it resumes instead of restarting.
	for _, id := range released {
		if _, err := m.graph.Update(ctx, id, graph.UpdateRequest{Owner: &newID}); err != nil {
			log.Printf("[Monitor] Transferring task %d to %s failed: %v", id, newID, err)
		}
	}

	if _, err := m.roster.UpdateHealth(ctx, m.team, member.Name, func(h *board.AgentHealth) {
		h.Status = board.HealthReplaced
		h.ReplacementCount++
	}); err != nil {
		return err
	}
	log.Printf("[Monitor] Agent %s replaced by %s (%d task(s) transferred)", agentID, newID, len(released))
	return nil
}

// escalate hands a permanently failing lineage to the team lead. The old
// identity is retired, its work stays pending, and a human-readable summary
// of the blast radius lands in the lead's inbox.
func (m *Monitor) escalate(ctx context.Context, member board.Agent, released []int) error {
	team, err := m.roster.Get(ctx, m.team)
	if err != nil {
		return err
	}
	agentID := board.AgentID(member.Name, m.team)

	leadName, _, err := board.SplitAgentID(team.Lead)
	if err != nil {
		return err
	}

	alert := inbox.NewStallAlert(board.AgentID(Name, m.team), inbox.StallAlert{Agent: agentID, Released: released})
	alert.Summary = fmt.Sprintf("%s failed permanently after %d replacements; %d task(s) need a new owner",
		agentID, maxLineageReplacements, len(released))
	if err := m.inbox.Send(ctx, m.team, leadName, alert); err != nil {
		return fmt.Errorf("escalating %s to lead: %w", agentID, err)
	}
	if _, err := m.roster.UpdateHealth(ctx, m.team, member.Name, func(h *board.AgentHealth) {
		h.Status = board.HealthReplaced
	}); err != nil {
		return err
	}
	log.Printf("[Monitor] Agent %s retired without substitution, escalated to %s", agentID, team.Lead)
	return nil
}

// lastActivity is the most recent of the agent's heartbeat and task update.
func lastActivity(h board.AgentHealth) time.Time {
	if h.LastTaskUpdate.After(h.LastHeartbeat) {
		return h.LastTaskUpdate
	}
	return h.LastHeartbeat
}

// stalenessThreshold is the agent's silence budget: the longest claim expiry
// across its in-flight tasks, or the baseline expiry when it owns none.
func stalenessThreshold(tasks []*board.Task, agentID string) time.Duration {
	seconds := graph.DefaultClaimExpiry("")
	for _, task := range tasks {
		if task.Owner != agentID || task.Status != board.StatusInProgress {
			continue
		}
		expiry := task.Metadata.ClaimExpirySeconds
		if expiry == 0 {
			expiry = graph.DefaultClaimExpiry(task.Metadata.RiskTier)
		}
		if expiry > seconds {
			seconds = expiry
		}
	}
	return time.Duration(seconds) * time.Second
}

var lineageRe = regexp.MustCompile(`-r(\d+)$`)

// lineageGeneration extracts the replacement generation from an agent name.
// "builder" is generation 0, "builder-r2" is generation 2.
func lineageGeneration(name string) int {
	match := lineageRe.FindStringSubmatch(name)
	if match == nil {
		return 0
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return n
}

// replacementName derives the next identity in a lineage.
func replacementName(name string, gen int) string {
	base := lineageRe.ReplaceAllString(name, "")
	return fmt.Sprintf("%s-r%d", base, gen)
}
