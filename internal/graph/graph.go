// Package graph implements the task graph store: CRUD over task records,
// the forward-only status state machine, and bidirectional dependency edges
// with cycle rejection.
//
// Every mutating operation runs as one read-validate-mutate critical section
// under the team's task lock scope, so no operation ever observes a
// concurrently-mutating peer mid-flight. Edge symmetry (blocks/blocked_by as
// exact inverses) is restored before any record is flushed.
package graph

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/warren/pkg/board"
)

// Notifier delivers a message to an agent's inbox. The owner-change side
// effect (task_assignment) goes through this port so the graph store does
// not depend on the messaging implementation.
type Notifier interface {
	Send(ctx context.Context, team, toName string, msg board.Message) error
}

// Graph is the task graph store for one team.
type Graph struct {
	store         board.Store
	team          string
	notifier      Notifier
	expiryForTier map[board.RiskTier]int
}

// Option configures a Graph.
type Option func(*Graph)

// WithNotifier wires the inbox port used for task_assignment messages.
// Without it, owner changes are applied silently.
func WithNotifier(n Notifier) Option {
	return func(g *Graph) {
		g.notifier = n
	}
}

// WithClaimExpiry overrides the per-tier claim expiry (seconds) stamped on
// new claims. Tiers absent from the map keep their defaults.
func WithClaimExpiry(overrides map[board.RiskTier]int) Option {
	return func(g *Graph) {
		g.expiryForTier = overrides
	}
}

// New creates a task graph store for the given team.
func New(store board.Store, team string, opts ...Option) *Graph {
	g := &Graph{store: store, team: team}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CreateRequest describes a task to create.
type CreateRequest struct {
	Subject     string
	Description string
	Owner       string         // Optional initial owner (agent id)
	BlockedBy   []int          // Tasks that must complete before this one starts
	RiskTier    board.RiskTier // Externally assigned; empty means GREEN
}

// Create allocates the next task id and inserts the task, linking any
// initial dependency edges symmetrically. Returns the created record.
func (g *Graph) Create(ctx context.Context, req CreateRequest) (*board.Task, error) {
	var created *board.Task

	err := g.store.WithLock(ctx, board.TasksScope(g.team), func() error {
		id, err := g.store.NextID(ctx, board.TaskCounterKey(g.team))
		if err != nil {
			return err
		}

		task := &board.Task{
			ID:          id,
			Subject:     req.Subject,
			Description: req.Description,
			Status:      board.StatusPending,
			Owner:       req.Owner,
			Blocks:      []int{},
			BlockedBy:   []int{},
			Metadata: board.TaskMetadata{
				RiskTier: req.RiskTier.OrGreen(),
			},
		}
		if err := task.Validate(); err != nil {
			return err
		}

		tasks, err := g.loadAll(ctx)
		if err != nil {
			return err
		}
		tasks[id] = task

		dirty := map[int]bool{id: true}
		for _, blocker := range req.BlockedBy {
			if err := linkEdge(tasks, blocker, id, dirty); err != nil {
				return err
			}
		}

		if err := g.flush(ctx, tasks, dirty); err != nil {
			return err
		}
		created = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created.Owner != "" {
		g.notifyAssignment(ctx, created)
	}
	return created, nil
}

// Get returns the task with the given id.
func (g *Graph) Get(ctx context.Context, id int) (*board.Task, error) {
	data, err := g.store.Get(ctx, board.TaskKey(g.team, id))
	if err != nil {
		return nil, err
	}
	return board.DecodeTask(data)
}

// List returns all of the team's tasks ordered by id.
func (g *Graph) List(ctx context.Context) ([]*board.Task, error) {
	keys, err := g.store.List(ctx, board.TaskPrefix(g.team))
	if err != nil {
		return nil, err
	}

	tasks := make([]*board.Task, 0, len(keys))
	for _, key := range keys {
		data, err := g.store.Get(ctx, key)
		if err != nil {
			if board.IsNotFound(err) {
				// Deleted between List and Get; atomic reads make this benign.
				continue
			}
			return nil, err
		}
		task, err := board.DecodeTask(data)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// UpdateRequest describes a partial mutation of one task. Nil pointer fields
// are left untouched.
type UpdateRequest struct {
	// Actor is the agent id performing the update. Tasks are mutated only by
	// their owner or the team lead; the empty actor is the kernel itself
	// (monitor, recovery) and bypasses the ownership check.
	Actor string

	Subject     *string
	Description *string
	Status      *board.TaskStatus
	Owner       *string // New owner agent id; empty string releases the task

	AddBlockedBy    []int
	RemoveBlockedBy []int
	AddBlocks       []int
	RemoveBlocks    []int

	RiskTier           *board.RiskTier
	ClaimExpirySeconds *int
	Checkpoint         *board.Checkpoint

	// Guard runs inside the critical section, after the task set is loaded
	// and before any mutation. A non-nil error aborts the update with
	// nothing applied. The admission controller uses this to check the
	// parallel-execution matrix against the in-flight task set race-free.
	Guard func(tasks map[int]*board.Task, task *board.Task) error
}

// Update applies a locked read-validate-mutate cycle to one task: it rejects
// backward status transitions, in_progress entry with unmet dependencies, and
// cycle-forming edges, then mutates the task and flushes every peer whose
// blocks/blocked_by set must change symmetrically.
func (g *Graph) Update(ctx context.Context, id int, req UpdateRequest) (*board.Task, error) {
	var updated *board.Task
	var ownerChanged bool

	err := g.store.WithLock(ctx, board.TasksScope(g.team), func() error {
		tasks, err := g.loadAll(ctx)
		if err != nil {
			return err
		}
		task, ok := tasks[id]
		if !ok {
			return fmt.Errorf("%w: task %d", board.ErrNotFound, id)
		}
		if task.Status == board.StatusDeleted {
			return fmt.Errorf("%w: task %d is deleted", board.ErrValidation, id)
		}

		if err := g.checkActor(ctx, task, req.Actor); err != nil {
			return err
		}

		if req.Guard != nil {
			if err := req.Guard(tasks, task); err != nil {
				return err
			}
		}

		dirty := map[int]bool{id: true}

		// Edge removals first so a removed-then-readded edge behaves like a
		// plain add within the same critical section.
		for _, blocker := range req.RemoveBlockedBy {
			unlinkEdge(tasks, blocker, id, dirty)
		}
		for _, blocked := range req.RemoveBlocks {
			unlinkEdge(tasks, id, blocked, dirty)
		}
		for _, blocker := range req.AddBlockedBy {
			if err := linkEdge(tasks, blocker, id, dirty); err != nil {
				return err
			}
		}
		for _, blocked := range req.AddBlocks {
			if err := linkEdge(tasks, id, blocked, dirty); err != nil {
				return err
			}
		}

		if req.Status != nil {
			if err := validateTransition(tasks, task, *req.Status); err != nil {
				return err
			}
			task.Status = *req.Status
		}

		if req.Subject != nil {
			if *req.Subject == "" {
				return fmt.Errorf("%w: task subject cannot be empty", board.ErrValidation)
			}
			task.Subject = *req.Subject
		}
		if req.Description != nil {
			task.Description = *req.Description
		}
		if req.RiskTier != nil {
			if err := req.RiskTier.Validate(); err != nil {
				return err
			}
			task.Metadata.RiskTier = req.RiskTier.OrGreen()
		}
		if req.ClaimExpirySeconds != nil {
			task.Metadata.ClaimExpirySeconds = *req.ClaimExpirySeconds
		}
		if req.Checkpoint != nil {
			task.Metadata.Checkpoint = req.Checkpoint
		}

		if req.Owner != nil && *req.Owner != task.Owner {
			if *req.Owner == "" {
				task.Owner = ""
				task.Metadata.ClaimedAt = time.Time{}
			} else {
				if _, _, err := board.SplitAgentID(*req.Owner); err != nil {
					return err
				}
				task.Owner = *req.Owner
				task.Metadata.ClaimedAt = time.Now().UTC()
				if task.Metadata.ClaimExpirySeconds == 0 {
					task.Metadata.ClaimExpirySeconds = g.claimExpiry(task.Metadata.RiskTier)
				}
				ownerChanged = true
			}
		}

		if err := task.Validate(); err != nil {
			return err
		}
		if err := g.flush(ctx, tasks, dirty); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ownerChanged {
		g.notifyAssignment(ctx, updated)
	}
	return updated, nil
}

// Delete marks the task deleted, purges every dependency reference to it from
// its peers, and unlinks its storage.
func (g *Graph) Delete(ctx context.Context, id int, actor string) error {
	return g.store.WithLock(ctx, board.TasksScope(g.team), func() error {
		tasks, err := g.loadAll(ctx)
		if err != nil {
			return err
		}
		task, ok := tasks[id]
		if !ok {
			return fmt.Errorf("%w: task %d", board.ErrNotFound, id)
		}
		if err := g.checkActor(ctx, task, actor); err != nil {
			return err
		}

		dirty := map[int]bool{}
		for _, blocked := range task.Blocks {
			unlinkEdge(tasks, id, blocked, dirty)
		}
		for _, blocker := range task.BlockedBy {
			unlinkEdge(tasks, blocker, id, dirty)
		}
		delete(dirty, id)

		task.Status = board.StatusDeleted
		if err := g.flush(ctx, tasks, dirty); err != nil {
			return err
		}
		return g.store.Delete(ctx, board.TaskKey(g.team, id))
	})
}

// ReleaseOwned resets every in_progress task owned by the given agent back to
// pending with no owner, preserving checkpoints for the eventual handoff.
// Returns the ids of the released tasks. Used by the monitor when an agent
// stalls; runs as one critical section so observers see either all claims or
// none of them released.
func (g *Graph) ReleaseOwned(ctx context.Context, owner string) ([]int, error) {
	var released []int

	err := g.store.WithLock(ctx, board.TasksScope(g.team), func() error {
		tasks, err := g.loadAll(ctx)
		if err != nil {
			return err
		}

		dirty := map[int]bool{}
		for id, task := range tasks {
			if task.Owner != owner || task.Status != board.StatusInProgress {
				continue
			}
			task.Owner = ""
			task.Status = board.StatusPending
			task.Metadata.ClaimedAt = time.Time{}
			dirty[id] = true
			released = append(released, id)
		}
		sort.Ints(released)
		return g.flush(ctx, tasks, dirty)
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// claimExpiry resolves the expiry for a tier, preferring a configured
// override over the built-in table.
func (g *Graph) claimExpiry(tier board.RiskTier) int {
	if seconds, ok := g.expiryForTier[tier.OrGreen()]; ok {
		return seconds
	}
	return DefaultClaimExpiry(tier)
}

// DefaultClaimExpiry returns the heartbeat staleness threshold in seconds
// for a tier: riskier work gets a longer leash before the monitor intervenes.
func DefaultClaimExpiry(tier board.RiskTier) int {
	switch tier.OrGreen() {
	case board.TierRed:
		return 600
	case board.TierCritical:
		return 900
	default:
		return 300
	}
}

// validateTransition enforces the forward-only status machine and the
// dependency gate for in_progress entry. The deleted status is reserved for
// Delete; updates never reach it.
func validateTransition(tasks map[int]*board.Task, task *board.Task, next board.TaskStatus) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if next == board.StatusDeleted {
		return fmt.Errorf("%w: task %d: use delete to remove a task", board.ErrValidation, task.ID)
	}
	if next < task.Status {
		return fmt.Errorf("%w: task %d: cannot move backward from %s to %s",
			board.ErrValidation, task.ID, task.Status, next)
	}
	if next == board.StatusInProgress && task.Status != board.StatusInProgress {
		for _, blocker := range task.BlockedBy {
			dep, ok := tasks[blocker]
			if !ok {
				return fmt.Errorf("%w: task %d: blocker %d missing", board.ErrStorage, task.ID, blocker)
			}
			if dep.Status != board.StatusCompleted {
				return fmt.Errorf("%w: task %d cannot start: blocked by incomplete task %d (%s)",
					board.ErrValidation, task.ID, blocker, dep.Status)
			}
		}
	}
	return nil
}

// linkEdge inserts the edge "blocker blocks blocked" symmetrically, rejecting
// self-edges and cycle-forming edges. The cycle check walks "blocks" edges
// breadth-first from the blocked task: if its transitive blocks set already
// contains the proposed blocker, the new edge would close a loop. The walk
// runs over the in-memory task map, so edges added earlier in the same
// critical section participate.
func linkEdge(tasks map[int]*board.Task, blocker, blocked int, dirty map[int]bool) error {
	if blocker == blocked {
		return fmt.Errorf("%w: task %d cannot block itself", board.ErrValidation, blocked)
	}
	from, ok := tasks[blocker]
	if !ok {
		return fmt.Errorf("%w: task %d", board.ErrNotFound, blocker)
	}
	to, ok := tasks[blocked]
	if !ok {
		return fmt.Errorf("%w: task %d", board.ErrNotFound, blocked)
	}
	if from.HasBlocked(blocked) && to.HasBlocker(blocker) {
		return nil // edge already present
	}

	if reaches(tasks, blocked, blocker) {
		return fmt.Errorf("%w: edge would create a cycle: task %d already transitively blocks task %d",
			board.ErrValidation, blocked, blocker)
	}

	if !from.HasBlocked(blocked) {
		from.Blocks = append(from.Blocks, blocked)
		sort.Ints(from.Blocks)
	}
	if !to.HasBlocker(blocker) {
		to.BlockedBy = append(to.BlockedBy, blocker)
		sort.Ints(to.BlockedBy)
	}
	dirty[blocker] = true
	dirty[blocked] = true
	return nil
}

// unlinkEdge removes the edge "blocker blocks blocked" from both sides.
// Missing endpoints or absent edges are ignored: removal is idempotent.
func unlinkEdge(tasks map[int]*board.Task, blocker, blocked int, dirty map[int]bool) {
	if from, ok := tasks[blocker]; ok && from.HasBlocked(blocked) {
		from.Blocks = removeInt(from.Blocks, blocked)
		dirty[blocker] = true
	}
	if to, ok := tasks[blocked]; ok && to.HasBlocker(blocker) {
		to.BlockedBy = removeInt(to.BlockedBy, blocker)
		dirty[blocked] = true
	}
}

// reaches reports whether target is reachable from start over "blocks" edges.
// O(V+E) breadth-first search.
func reaches(tasks map[int]*board.Task, start, target int) bool {
	visited := map[int]bool{start: true}
	queue := []int{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true
		}
		task, ok := tasks[cur]
		if !ok {
			continue
		}
		for _, next := range task.Blocks {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// checkActor enforces the ownership rule: owned tasks are mutated only by
// their owner or the team lead. The empty actor is trusted kernel code.
func (g *Graph) checkActor(ctx context.Context, task *board.Task, actor string) error {
	if actor == "" || task.Owner == "" || task.Owner == actor {
		return nil
	}
	data, err := g.store.Get(ctx, board.TeamKey(g.team))
	if err != nil {
		return fmt.Errorf("failed to resolve team lead: %w", err)
	}
	tc, err := board.DecodeTeamConfig(data)
	if err != nil {
		return err
	}
	if tc.Lead == actor {
		return nil
	}
	return fmt.Errorf("%w: task %d is owned by %s; only the owner or lead %s may mutate it",
		board.ErrValidation, task.ID, task.Owner, tc.Lead)
}

// loadAll reads the team's whole task set into memory. Callers hold the
// team task lock, so the snapshot is consistent.
func (g *Graph) loadAll(ctx context.Context) (map[int]*board.Task, error) {
	keys, err := g.store.List(ctx, board.TaskPrefix(g.team))
	if err != nil {
		return nil, err
	}
	tasks := make(map[int]*board.Task, len(keys))
	for _, key := range keys {
		data, err := g.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		task, err := board.DecodeTask(data)
		if err != nil {
			return nil, fmt.Errorf("corrupt task record %q: %w", key, err)
		}
		tasks[task.ID] = task
	}
	return tasks, nil
}

// flush writes every dirty task back to storage. Runs inside the critical
// section; each write is individually atomic.
func (g *Graph) flush(ctx context.Context, tasks map[int]*board.Task, dirty map[int]bool) error {
	ids := make([]int, 0, len(dirty))
	for id := range dirty {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		task, ok := tasks[id]
		if !ok {
			continue
		}
		data, err := board.EncodeTask(task)
		if err != nil {
			return err
		}
		if err := g.store.Put(ctx, board.TaskKey(g.team, id), data); err != nil {
			return err
		}
	}
	return nil
}

// notifyAssignment enqueues a task_assignment message to the task's new
// owner. Runs immediately after the task transaction; a delivery failure is
// logged rather than unwinding the already-committed ownership change.
func (g *Graph) notifyAssignment(ctx context.Context, task *board.Task) {
	if g.notifier == nil {
		return
	}
	name, _, err := board.SplitAgentID(task.Owner)
	if err != nil {
		return
	}
	msg := board.Message{
		ID:        uuid.New().String(),
		From:      "warren",
		Text:      fmt.Sprintf("You are now the owner of task %d: %s", task.ID, task.Subject),
		Timestamp: time.Now().UTC(),
		Type:      board.MessageTaskAssignment,
		Summary:   fmt.Sprintf("task %d assigned", task.ID),
	}
	if err := g.notifier.Send(ctx, g.team, name, msg); err != nil {
		log.Printf("[Graph] Failed to deliver task_assignment for task %d to %s: %v", task.ID, task.Owner, err)
	}
}

// removeInt returns s without any occurrence of v, preserving order.
func removeInt(s []int, v int) []int {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
