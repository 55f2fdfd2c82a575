package admission

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/internal/graph"
	"github.com/dyluth/warren/internal/roster"
	"github.com/dyluth/warren/pkg/board"
)

// stubClassifier returns a fixed tier for every description.
type stubClassifier struct {
	tier board.RiskTier
	err  error
}

func (s *stubClassifier) Classify(ctx context.Context, description string) (board.RiskTier, error) {
	return s.tier, s.err
}

func writeTeam(t *testing.T, store board.Store, leadHealth board.HealthStatus) {
	t.Helper()
	team := &board.TeamConfig{
		Name: "core",
		Lead: "lead-1@core",
		Members: []board.Agent{
			{Name: "lead-1", Role: board.RoleArchitect, Health: board.AgentHealth{Status: leadHealth, LastHeartbeat: time.Now().UTC()}},
			{Name: "impl-1", Role: board.RoleImplementer, Health: board.AgentHealth{Status: board.HealthHealthy, LastHeartbeat: time.Now().UTC()}},
			{Name: "research-1", Role: board.RoleResearcher, Health: board.AgentHealth{Status: board.HealthHealthy, LastHeartbeat: time.Now().UTC()}},
		},
	}
	require.NoError(t, team.Validate())
	data, err := board.EncodeTeamConfig(team)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), board.TeamKey("core"), data))
}

func setupController(t *testing.T, opts ...Option) (*Controller, *graph.Graph, board.Store) {
	store, err := board.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	writeTeam(t, store, board.HealthHealthy)
	g := graph.New(store, "core")
	return New(store, g, "core", opts...), g, store
}

func createTask(t *testing.T, g *graph.Graph, tier board.RiskTier) *board.Task {
	t.Helper()
	task, err := g.Create(context.Background(), graph.CreateRequest{
		Subject:  "task at " + string(tier),
		RiskTier: tier,
	})
	require.NoError(t, err)
	return task
}

func agent(name string, role board.Role) board.Agent {
	return board.Agent{Name: name, Role: role}
}

func TestRoleAllowed(t *testing.T) {
	cases := []struct {
		tier board.RiskTier
		role board.Role
		ok   bool
	}{
		{board.TierGreen, board.RoleResearcher, true},
		{board.TierGreen, board.RoleReviewer, true},
		{board.TierYellow, board.RoleImplementer, true},
		{board.TierYellow, board.RoleTester, true},
		{board.TierYellow, board.RoleArchitect, true},
		{board.TierYellow, board.RoleResearcher, false},
		{board.TierYellow, board.RoleReviewer, false},
		{board.TierRed, board.RoleImplementer, true},
		{board.TierRed, board.RoleArchitect, true},
		{board.TierRed, board.RoleTester, false},
		{board.TierCritical, board.RoleArchitect, true},
		{board.TierCritical, board.RoleImplementer, false},
		{"", board.RoleResearcher, true}, // unset tier defaults to green
	}
	for _, tc := range cases {
		err := RoleAllowed(tc.tier, tc.role)
		if tc.ok {
			assert.NoError(t, err, "%s should claim %s work", tc.role, tc.tier.OrGreen())
		} else {
			assert.ErrorIs(t, err, board.ErrValidation, "%s should not claim %s work", tc.role, tc.tier)
		}
	}
}

func TestCompatible(t *testing.T) {
	cases := []struct {
		a, b board.RiskTier
		ok   bool
	}{
		{board.TierGreen, board.TierGreen, true},
		{board.TierGreen, board.TierCritical, true},
		{board.TierYellow, board.TierYellow, true},
		{board.TierYellow, board.TierRed, true},
		{board.TierYellow, board.TierCritical, false},
		{board.TierRed, board.TierRed, false},
		{board.TierRed, board.TierCritical, false},
		{board.TierCritical, board.TierCritical, false},
		{"", board.TierRed, true}, // unset tier is green
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, Compatible(tc.a, tc.b), "%s vs %s", tc.a.OrGreen(), tc.b.OrGreen())
		assert.Equal(t, tc.ok, Compatible(tc.b, tc.a), "matrix must be symmetric: %s vs %s", tc.b.OrGreen(), tc.a.OrGreen())
	}
}

func TestClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("role gate per tier", func(t *testing.T) {
		ctrl, g, _ := setupController(t)
		yellow := createTask(t, g, board.TierYellow)

		_, err := ctrl.Claim(ctx, yellow.ID, agent("research-1", board.RoleResearcher), nil)
		assert.ErrorIs(t, err, board.ErrValidation)

		claimed, err := ctrl.Claim(ctx, yellow.ID, agent("impl-1", board.RoleImplementer), nil)
		require.NoError(t, err)
		assert.Equal(t, board.StatusInProgress, claimed.Status)
		assert.Equal(t, "impl-1@core", claimed.Owner)
		assert.False(t, claimed.Metadata.ClaimedAt.IsZero())
	})

	t.Run("red admits under a healthy lead", func(t *testing.T) {
		store, err := board.NewFileStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })

		// Build the roster through the registry, the way production does.
		reg := roster.New(store)
		_, err = reg.Create(ctx, "core", "lead-1", board.RoleArchitect)
		require.NoError(t, err)
		_, err = reg.AddMember(ctx, "core", "impl-1", board.RoleImplementer)
		require.NoError(t, err)

		g := graph.New(store, "core")
		ctrl := New(store, g, "core")
		red := createTask(t, g, board.TierRed)

		claimed, err := ctrl.Claim(ctx, red.ID, agent("impl-1", board.RoleImplementer), nil)
		require.NoError(t, err)
		assert.Equal(t, "impl-1@core", claimed.Owner)
	})

	t.Run("red requires a healthy lead", func(t *testing.T) {
		store, err := board.NewFileStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		writeTeam(t, store, board.HealthStalled)

		g := graph.New(store, "core")
		ctrl := New(store, g, "core")
		red := createTask(t, g, board.TierRed)

		_, err = ctrl.Claim(ctx, red.ID, agent("impl-1", board.RoleImplementer), nil)
		assert.ErrorIs(t, err, board.ErrValidation)
	})

	t.Run("critical requires sign-off at admission", func(t *testing.T) {
		ctrl, g, _ := setupController(t)
		crit := createTask(t, g, board.TierCritical)

		_, err := ctrl.Claim(ctx, crit.ID, agent("lead-1", board.RoleArchitect), nil)
		assert.ErrorIs(t, err, board.ErrValidation)

		claimed, err := ctrl.Claim(ctx, crit.ID, agent("lead-1", board.RoleArchitect),
			&Approval{By: "operator", At: time.Now().UTC()})
		require.NoError(t, err)
		assert.Equal(t, board.StatusInProgress, claimed.Status)
	})

	t.Run("claims on owned tasks are refused", func(t *testing.T) {
		ctrl, g, _ := setupController(t)
		task := createTask(t, g, board.TierGreen)

		_, err := ctrl.Claim(ctx, task.ID, agent("impl-1", board.RoleImplementer), nil)
		require.NoError(t, err)

		_, err = ctrl.Claim(ctx, task.ID, agent("research-1", board.RoleResearcher), nil)
		assert.ErrorIs(t, err, board.ErrValidation)

		fresh, err := g.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "impl-1@core", fresh.Owner, "a claim never reassigns owned work")
	})

	t.Run("parallel matrix refuses a second red", func(t *testing.T) {
		ctrl, g, _ := setupController(t)
		red1 := createTask(t, g, board.TierRed)
		red2 := createTask(t, g, board.TierRed)

		_, err := ctrl.Claim(ctx, red1.ID, agent("impl-1", board.RoleImplementer), nil)
		require.NoError(t, err)

		_, err = ctrl.Claim(ctx, red2.ID, agent("lead-1", board.RoleArchitect), nil)
		assert.ErrorIs(t, err, board.ErrValidation)

		// The refused claim leaves the task untouched.
		fresh, err := g.Get(ctx, red2.ID)
		require.NoError(t, err)
		assert.Equal(t, board.StatusPending, fresh.Status)
		assert.Empty(t, fresh.Owner)
	})

	t.Run("critical admits only beside green", func(t *testing.T) {
		ctrl, g, _ := setupController(t)
		green := createTask(t, g, board.TierGreen)
		yellow := createTask(t, g, board.TierYellow)
		crit := createTask(t, g, board.TierCritical)
		signoff := &Approval{By: "operator", At: time.Now().UTC()}

		_, err := ctrl.Claim(ctx, green.ID, agent("research-1", board.RoleResearcher), nil)
		require.NoError(t, err)
		_, err = ctrl.Claim(ctx, yellow.ID, agent("impl-1", board.RoleImplementer), nil)
		require.NoError(t, err)

		_, err = ctrl.Claim(ctx, crit.ID, agent("lead-1", board.RoleArchitect), signoff)
		assert.ErrorIs(t, err, board.ErrValidation)

		// With the yellow task done, only green remains in flight.
		_, err = ctrl.Complete(ctx, yellow.ID, "impl-1@core", Evidence{ConflictCheckPassed: true, TargetedTestsPassed: true})
		require.NoError(t, err)
		_, err = ctrl.Claim(ctx, crit.ID, agent("lead-1", board.RoleArchitect), signoff)
		assert.NoError(t, err)
	})
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("green completes without evidence", func(t *testing.T) {
		ctrl, g, _ := setupController(t)
		task := createTask(t, g, board.TierGreen)
		_, err := ctrl.Claim(ctx, task.ID, agent("research-1", board.RoleResearcher), nil)
		require.NoError(t, err)

		done, err := ctrl.Complete(ctx, task.ID, "research-1@core", Evidence{})
		require.NoError(t, err)
		assert.Equal(t, board.StatusCompleted, done.Status)
	})

	t.Run("yellow gate names the gaps and changes nothing", func(t *testing.T) {
		ctrl, g, _ := setupController(t)
		task := createTask(t, g, board.TierYellow)
		_, err := ctrl.Claim(ctx, task.ID, agent("impl-1", board.RoleImplementer), nil)
		require.NoError(t, err)

		_, err = ctrl.Complete(ctx, task.ID, "impl-1@core", Evidence{ConflictCheckPassed: true})
		var gateErr *GateError
		require.ErrorAs(t, err, &gateErr)
		assert.ErrorIs(t, err, ErrGate)
		assert.Equal(t, board.TierYellow, gateErr.Tier)
		assert.Equal(t, []string{"targeted tests"}, gateErr.Missing)

		fresh, err := g.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, board.StatusInProgress, fresh.Status)
		assert.Equal(t, board.TierYellow, fresh.Metadata.RiskTier)

		_, err = ctrl.Complete(ctx, task.ID, "impl-1@core", Evidence{ConflictCheckPassed: true, TargetedTestsPassed: true})
		assert.NoError(t, err)
	})

	t.Run("critical gate requires human sign-off with no bypass", func(t *testing.T) {
		ctrl, g, _ := setupController(t)
		task := createTask(t, g, board.TierCritical)
		signoff := &Approval{By: "operator", At: time.Now().UTC()}
		_, err := ctrl.Claim(ctx, task.ID, agent("lead-1", board.RoleArchitect), signoff)
		require.NoError(t, err)

		_, err = ctrl.Complete(ctx, task.ID, "lead-1@core", Evidence{FullSuitePassed: true, ReviewApproved: true})
		var gateErr *GateError
		require.ErrorAs(t, err, &gateErr)
		assert.Contains(t, gateErr.Missing, "human sign-off")

		_, err = ctrl.Complete(ctx, task.ID, "lead-1@core", Evidence{
			FullSuitePassed: true, ReviewApproved: true, HumanApproval: signoff,
		})
		assert.NoError(t, err)
	})

	t.Run("red is re-scored and may be downgraded", func(t *testing.T) {
		ctrl, g, _ := setupController(t, WithClassifier(&stubClassifier{tier: board.TierYellow}))
		task := createTask(t, g, board.TierRed)
		_, err := ctrl.Claim(ctx, task.ID, agent("impl-1", board.RoleImplementer), nil)
		require.NoError(t, err)

		// Downgraded to yellow, so the yellow gate applies instead of the red one.
		done, err := ctrl.Complete(ctx, task.ID, "impl-1@core", Evidence{
			ConflictCheckPassed: true, TargetedTestsPassed: true,
		})
		require.NoError(t, err)
		assert.Equal(t, board.StatusCompleted, done.Status)
		assert.Equal(t, board.TierYellow, done.Metadata.RiskTier)
	})

	t.Run("red gate when re-scoring agrees", func(t *testing.T) {
		ctrl, g, _ := setupController(t, WithClassifier(&stubClassifier{tier: board.TierRed}))
		task := createTask(t, g, board.TierRed)
		_, err := ctrl.Claim(ctx, task.ID, agent("impl-1", board.RoleImplementer), nil)
		require.NoError(t, err)

		_, err = ctrl.Complete(ctx, task.ID, "impl-1@core", Evidence{FullSuitePassed: true})
		var gateErr *GateError
		require.ErrorAs(t, err, &gateErr)
		assert.Equal(t, []string{"review approval"}, gateErr.Missing)

		_, err = ctrl.Complete(ctx, task.ID, "impl-1@core", Evidence{FullSuitePassed: true, ReviewApproved: true})
		assert.NoError(t, err)
	})
}

func TestSetTier(t *testing.T) {
	ctx := context.Background()

	t.Run("escalation is free", func(t *testing.T) {
		ctrl, g, _ := setupController(t)
		task := createTask(t, g, board.TierGreen)

		updated, err := ctrl.SetTier(ctx, task.ID, "", board.TierRed, "", nil)
		require.NoError(t, err)
		assert.Equal(t, board.TierRed, updated.Metadata.RiskTier)
	})

	t.Run("de-escalation requires justification", func(t *testing.T) {
		ctrl, g, _ := setupController(t)
		task := createTask(t, g, board.TierRed)

		_, err := ctrl.SetTier(ctx, task.ID, "", board.TierYellow, "", nil)
		assert.ErrorIs(t, err, board.ErrValidation)

		updated, err := ctrl.SetTier(ctx, task.ID, "", board.TierYellow, "scope shrank to docs only", nil)
		require.NoError(t, err)
		assert.Equal(t, board.TierYellow, updated.Metadata.RiskTier)
	})

	t.Run("leaving critical requires a human decision", func(t *testing.T) {
		ctrl, g, _ := setupController(t)
		task := createTask(t, g, board.TierCritical)

		_, err := ctrl.SetTier(ctx, task.ID, "", board.TierRed, "migration already applied", nil)
		assert.ErrorIs(t, err, board.ErrValidation)

		updated, err := ctrl.SetTier(ctx, task.ID, "", board.TierRed, "migration already applied",
			&Approval{By: "operator", At: time.Now().UTC()})
		require.NoError(t, err)
		assert.Equal(t, board.TierRed, updated.Metadata.RiskTier)
	})
}

// TestAdmissionInvariantUnderRandomizedClaims drives concurrent randomized
// claim/complete sequences and checks after every successful claim that the
// in-progress set never violates the parallel-execution matrix.
func TestAdmissionInvariantUnderRandomizedClaims(t *testing.T) {
	ctrl, g, store := setupController(t)
	ctx := context.Background()

	tiers := []board.RiskTier{
		board.TierGreen, board.TierGreen, board.TierGreen,
		board.TierYellow, board.TierYellow,
		board.TierRed, board.TierRed,
		board.TierCritical,
	}
	var ids []int
	for i := 0; i < 24; i++ {
		task := createTask(t, g, tiers[i%len(tiers)])
		ids = append(ids, task.ID)
	}

	// snapshot reads the whole task set under the task lock so no claim or
	// completion can interleave with it.
	snapshot := func() []*board.Task {
		var tasks []*board.Task
		err := store.WithLock(ctx, board.TasksScope("core"), func() error {
			var err error
			tasks, err = g.List(ctx)
			return err
		})
		require.NoError(t, err)
		return tasks
	}

	checkInvariant := func(tasks []*board.Task) {
		var inFlight []*board.Task
		for _, task := range tasks {
			if task.Status == board.StatusInProgress {
				inFlight = append(inFlight, task)
			}
		}
		for i := 0; i < len(inFlight); i++ {
			for j := i + 1; j < len(inFlight); j++ {
				a, b := inFlight[i], inFlight[j]
				require.True(t, Compatible(a.Metadata.RiskTier, b.Metadata.RiskTier),
					"tasks %d (%s) and %d (%s) in progress together",
					a.ID, a.Metadata.RiskTier.OrGreen(), b.ID, b.Metadata.RiskTier.OrGreen())
			}
		}
	}

	signoff := &Approval{By: "operator", At: time.Now().UTC()}
	fullEvidence := Evidence{
		ConflictCheckPassed: true,
		TargetedTestsPassed: true,
		FullSuitePassed:     true,
		ReviewApproved:      true,
		HumanApproval:       signoff,
	}

	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			owner := "lead-1@core"
			for i := 0; i < 40; i++ {
				id := ids[rng.Intn(len(ids))]
				claimed, err := ctrl.Claim(ctx, id, agent("lead-1", board.RoleArchitect), signoff)
				if err != nil {
					continue // already taken, completed, or refused by the matrix
				}
				checkInvariant(snapshot())
				if rng.Intn(2) == 0 {
					_, _ = ctrl.Complete(ctx, claimed.ID, owner, fullEvidence)
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()

	checkInvariant(snapshot())
}
