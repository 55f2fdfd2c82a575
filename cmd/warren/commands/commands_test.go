package commands

import (
	"io"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags clears the package-level flag variables so values from one
// invocation never leak into the next.
func resetFlags() {
	configPath = "warren.yml"
	forceInit = false
	taskDescription = ""
	taskBlockedBy = nil
	taskTier = ""
	taskOwner = ""
	taskListStatus = ""
	taskListJSON = false
	taskActor = ""
	taskStatusFlag = ""
	taskSubject = ""
	taskAddBlockedBy = nil
	taskRmBlockedBy = nil
	taskJustification = ""
	taskApprovedBy = ""
	taskConflictCheck = false
	taskTargetedTests = false
	taskFullSuite = false
	taskReviewed = false
	taskCommit = ""
	taskPercent = 0
	taskLastAction = ""
	taskFiles = nil
	sendFrom = ""
	sendType = ""
	sendSummary = ""
	sendBroadcast = false
	inboxUnread = false
	inboxMarkRead = false
	monitorNoDocker = false
}

func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	resetFlags()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

// captureStdout collects everything fn prints to stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	fn()
	w.Close()
	os.Stdout = old
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

// TestWorkflow drives the whole surface end to end against a file-backed
// board in a scratch directory: scaffold, register the team, build a small
// dependency graph, claim and complete through the admission gates, and
// exchange messages.
func TestWorkflow(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	require.NoError(t, runCLI(t, "init"))
	assert.FileExists(t, "warren.yml")

	require.NoError(t, runCLI(t, "team", "create"))
	require.NoError(t, runCLI(t, "team", "show"))

	t.Run("team is registered once", func(t *testing.T) {
		assert.Error(t, runCLI(t, "team", "create"))
	})

	require.NoError(t, runCLI(t, "task", "create", "write the migration", "--tier", "yellow"))
	require.NoError(t, runCLI(t, "task", "create", "deploy the migration", "--blocked-by", "1"))
	require.NoError(t, runCLI(t, "task", "list"))
	require.NoError(t, runCLI(t, "task", "show", "2"))

	t.Run("dependency cycles are rejected", func(t *testing.T) {
		assert.Error(t, runCLI(t, "task", "update", "1", "--add-blocked-by", "2"))
	})

	t.Run("blocked tasks cannot start", func(t *testing.T) {
		assert.Error(t, runCLI(t, "task", "claim", "2", "--as", "impl-1"))
	})

	require.NoError(t, runCLI(t, "task", "claim", "1", "--as", "impl-1"))

	require.NoError(t, runCLI(t, "task", "checkpoint", "1", "--as", "impl-1@core",
		"--percent", "40", "--last-action", "schema drafted"))
	require.NoError(t, runCLI(t, "task", "show", "1"))

	t.Run("checkpoint progress is bounded", func(t *testing.T) {
		assert.Error(t, runCLI(t, "task", "checkpoint", "1", "--as", "impl-1@core", "--percent", "140"))
	})

	t.Run("completion gate wants evidence for yellow", func(t *testing.T) {
		assert.Error(t, runCLI(t, "task", "complete", "1", "--as", "impl-1@core"))
	})

	require.NoError(t, runCLI(t, "task", "complete", "1", "--as", "impl-1@core",
		"--conflict-check", "--targeted-tests"))

	t.Run("completing the blocker unblocks the dependant", func(t *testing.T) {
		require.NoError(t, runCLI(t, "task", "claim", "2", "--as", "impl-1"))
	})

	require.NoError(t, runCLI(t, "send", "lead-1", "migration is live", "--from", "impl-1@core"))
	require.NoError(t, runCLI(t, "inbox", "lead-1", "--unread"))

	t.Run("status marks the lead", func(t *testing.T) {
		out := captureStdout(t, func() {
			require.NoError(t, runCLI(t, "status"))
		})
		assert.Contains(t, out, "lead-1 (lead)")
	})

	t.Run("statuses never move backwards", func(t *testing.T) {
		assert.Error(t, runCLI(t, "task", "update", "1", "--status", "pending"))
	})
}

// Inside a Git repository, --conflict-check is verified against the working
// tree: uncommitted changes fail the yellow-tier gate until they are
// committed.
func TestCompleteConflictCheckVerifiesWorkspace(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	for _, args := range [][]string{
		{"init"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "test"},
	} {
		out, err := exec.Command("git", args...).CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	require.NoError(t, runCLI(t, "init"))
	require.NoError(t, runCLI(t, "team", "create"))
	require.NoError(t, runCLI(t, "task", "create", "port the exporter", "--tier", "yellow"))
	require.NoError(t, runCLI(t, "task", "claim", "1", "--as", "impl-1"))

	// warren.yml and the board directory are untracked, so the working tree
	// is dirty.
	err = runCLI(t, "task", "complete", "1", "--as", "impl-1@core", "--conflict-check", "--targeted-tests")
	assert.Error(t, err)

	out, err := exec.Command("git", "add", "-A").CombinedOutput()
	require.NoError(t, err, "%s", out)
	out, err = exec.Command("git", "commit", "-m", "exporter ported").CombinedOutput()
	require.NoError(t, err, "%s", out)

	require.NoError(t, runCLI(t, "task", "complete", "1", "--as", "impl-1@core", "--conflict-check", "--targeted-tests"))
}

func TestVersion(t *testing.T) {
	SetVersionInfo("1.2.3", "abc1234", "2026-03-01")
	assert.Contains(t, rootCmd.Version, "1.2.3")
	assert.Contains(t, rootCmd.Version, "abc1234")
}
