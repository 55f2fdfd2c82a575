package printer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/pkg/board"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("returns error with title for multiple suggestions", func(t *testing.T) {
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})
}

func TestTier(t *testing.T) {
	require.Contains(t, Tier(board.TierRed), "red")
	require.Contains(t, Tier(board.TierCritical), "critical")
	require.Contains(t, Tier(""), "green", "unset tier renders as green")
}

func TestHealth(t *testing.T) {
	require.Contains(t, Health(board.HealthHealthy), "healthy")
	require.Contains(t, Health(board.HealthReplaced), "replaced")
}
