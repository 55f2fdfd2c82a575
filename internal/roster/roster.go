// Package roster implements the team registry: the membership roster and its
// atomic lifecycle (create, grow, shrink, delete).
//
// Every mutation is a locked read-validate-mutate cycle on the team's
// configuration document, which is written atomically so readers see either
// the full old or full new roster.
package roster

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/warren/pkg/board"
)

// Registry manages team configuration documents on a board store.
type Registry struct {
	store board.Store
}

// New creates a team registry.
func New(store board.Store) *Registry {
	return &Registry{store: store}
}

// Create creates a team with its lead as the sole member. The lead is the
// distinguished coordinating agent; there is exactly one per team.
func (r *Registry) Create(ctx context.Context, team, leadName string, role board.Role) (*board.TeamConfig, error) {
	if !board.ValidName(team) {
		return nil, fmt.Errorf("%w: invalid team name %q", board.ErrValidation, team)
	}

	tc := &board.TeamConfig{
		Name: team,
		Lead: board.AgentID(leadName, team),
		Members: []board.Agent{{
			Name: leadName,
			Role: role,
			Health: board.AgentHealth{
				Status:        board.HealthHealthy,
				LastHeartbeat: time.Now().UTC(),
			},
		}},
	}

	err := r.store.WithLock(ctx, board.TeamScope(team), func() error {
		if _, err := r.store.Get(ctx, board.TeamKey(team)); err == nil {
			return fmt.Errorf("%w: team %q already exists", board.ErrValidation, team)
		} else if !board.IsNotFound(err) {
			return err
		}
		return r.put(ctx, tc)
	})
	if err != nil {
		return nil, err
	}
	return tc, nil
}

// Get returns the team's roster.
func (r *Registry) Get(ctx context.Context, team string) (*board.TeamConfig, error) {
	data, err := r.store.Get(ctx, board.TeamKey(team))
	if err != nil {
		return nil, err
	}
	return board.DecodeTeamConfig(data)
}

// AddMember grows the team with a new agent in healthy state.
func (r *Registry) AddMember(ctx context.Context, team, name string, role board.Role) (*board.TeamConfig, error) {
	agent := board.Agent{
		Name: name,
		Role: role,
		Health: board.AgentHealth{
			Status:        board.HealthHealthy,
			LastHeartbeat: time.Now().UTC(),
		},
	}
	if err := agent.Validate(); err != nil {
		return nil, err
	}

	var tc *board.TeamConfig
	err := r.store.WithLock(ctx, board.TeamScope(team), func() error {
		cur, err := r.Get(ctx, team)
		if err != nil {
			return err
		}
		if cur.Member(name) != nil {
			return fmt.Errorf("%w: agent %q already in team %q", board.ErrValidation, name, team)
		}
		cur.Members = append(cur.Members, agent)
		if err := r.put(ctx, cur); err != nil {
			return err
		}
		tc = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tc, nil
}

// RemoveMember shrinks the team. The lead is never removable this way: while
// peers exist it must keep coordinating them, and the last member leaves via
// Delete so the team never exists without exactly one lead.
func (r *Registry) RemoveMember(ctx context.Context, team, name string) error {
	return r.store.WithLock(ctx, board.TeamScope(team), func() error {
		cur, err := r.Get(ctx, team)
		if err != nil {
			return err
		}
		if cur.Member(name) == nil {
			return fmt.Errorf("%w: agent %q not in team %q", board.ErrNotFound, name, team)
		}
		if board.AgentID(name, team) == cur.Lead {
			return fmt.Errorf("%w: cannot remove lead %q from team %q", board.ErrValidation, name, team)
		}

		members := cur.Members[:0]
		for _, m := range cur.Members {
			if m.Name != name {
				members = append(members, m)
			}
		}
		cur.Members = members
		return r.put(ctx, cur)
	})
}

// Delete removes the team document. It requires every non-lead member to be
// removed first, so a team is never torn down under active agents.
func (r *Registry) Delete(ctx context.Context, team string) error {
	return r.store.WithLock(ctx, board.TeamScope(team), func() error {
		cur, err := r.Get(ctx, team)
		if err != nil {
			return err
		}
		if len(cur.Members) > 1 {
			return fmt.Errorf("%w: team %q still has %d non-lead member(s)",
				board.ErrValidation, team, len(cur.Members)-1)
		}
		return r.store.Delete(ctx, board.TeamKey(team))
	})
}

// UpdateHealth applies fn to one member's health record inside the roster's
// critical section. Only the monitor and recovery controller mutate health;
// the replaced state is terminal and any transition out of it is rejected.
func (r *Registry) UpdateHealth(ctx context.Context, team, name string, fn func(*board.AgentHealth)) (*board.Agent, error) {
	var out *board.Agent

	err := r.store.WithLock(ctx, board.TeamScope(team), func() error {
		cur, err := r.Get(ctx, team)
		if err != nil {
			return err
		}
		member := cur.Member(name)
		if member == nil {
			return fmt.Errorf("%w: agent %q not in team %q", board.ErrNotFound, name, team)
		}

		wasReplaced := member.Health.Status == board.HealthReplaced
		fn(&member.Health)
		if err := member.Health.Status.Validate(); err != nil {
			return err
		}
		if wasReplaced && member.Health.Status != board.HealthReplaced {
			return fmt.Errorf("%w: agent %q is replaced; the state is terminal", board.ErrValidation, name)
		}

		if err := r.put(ctx, cur); err != nil {
			return err
		}
		copied := *member
		out = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// put atomically persists the roster after validation.
func (r *Registry) put(ctx context.Context, tc *board.TeamConfig) error {
	data, err := board.EncodeTeamConfig(tc)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, board.TeamKey(tc.Name), data)
}
