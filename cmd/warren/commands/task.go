package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/admission"
	"github.com/dyluth/warren/internal/git"
	"github.com/dyluth/warren/internal/graph"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/board"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Work with the task dependency graph",
}

var (
	taskDescription string
	taskBlockedBy   []int
	taskTier        string
	taskOwner       string

	taskListStatus string
	taskListJSON   bool

	taskActor         string
	taskStatusFlag    string
	taskSubject       string
	taskAddBlockedBy  []int
	taskRmBlockedBy   []int
	taskJustification string
	taskApprovedBy    string

	taskConflictCheck bool
	taskTargetedTests bool
	taskFullSuite     bool
	taskReviewed      bool

	taskCommit     string
	taskPercent    int
	taskLastAction string
	taskFiles      []string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create <subject>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the team's tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a task's fields, status, owner, or dependencies",
	Long: `Update a task. Statuses only move forward (pending -> in_progress ->
completed); dependency edits that would create a cycle are rejected with
the offending path. Tier changes go through the admission rules: lowering
a tier needs --justification, and leaving critical needs --approved-by.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskUpdate,
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim <id>",
	Short: "Claim a task for an agent through the admission controller",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskClaim,
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Complete a task through its tier's completion gate",
	Long: `Mark a task completed. The risk tier decides the required evidence:
green none, yellow --conflict-check and --targeted-tests, red --full-suite
and --reviewed, critical additionally --approved-by. Inside a Git
repository --conflict-check also requires a clean working tree. A refused
gate names what is missing and changes nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskComplete,
}

var taskCheckpointCmd = &cobra.Command{
	Use:   "checkpoint <id>",
	Short: "Record a progress checkpoint on a task",
	Long: `Record a checkpoint on an in-progress task so a replacement agent can
resume from it. If the working directory is a Git repository, --commit is
verified to resolve to a real commit before it is recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskCheckpoint,
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task and unlink it from the graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDelete,
}

func init() {
	taskCreateCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "Task description")
	taskCreateCmd.Flags().IntSliceVar(&taskBlockedBy, "blocked-by", nil, "Task ids this task depends on")
	taskCreateCmd.Flags().StringVar(&taskTier, "tier", "", "Risk tier (green, yellow, red, critical)")
	taskCreateCmd.Flags().StringVar(&taskOwner, "owner", "", "Initial owner (name@team)")

	taskListCmd.Flags().StringVar(&taskListStatus, "status", "", "Filter by status (pending, in_progress, completed)")
	taskListCmd.Flags().BoolVar(&taskListJSON, "json", false, "Output in JSON format")

	taskUpdateCmd.Flags().StringVar(&taskActor, "as", "", "Acting agent (name@team); owner or lead for owned tasks")
	taskUpdateCmd.Flags().StringVar(&taskSubject, "subject", "", "New subject")
	taskUpdateCmd.Flags().StringVarP(&taskDescription, "description", "d", "", "New description")
	taskUpdateCmd.Flags().StringVar(&taskStatusFlag, "status", "", "New status (forward only)")
	taskUpdateCmd.Flags().StringVar(&taskOwner, "owner", "", "New owner (name@team)")
	taskUpdateCmd.Flags().IntSliceVar(&taskAddBlockedBy, "add-blocked-by", nil, "Add dependencies")
	taskUpdateCmd.Flags().IntSliceVar(&taskRmBlockedBy, "remove-blocked-by", nil, "Remove dependencies")
	taskUpdateCmd.Flags().StringVar(&taskTier, "tier", "", "New risk tier")
	taskUpdateCmd.Flags().StringVar(&taskJustification, "justification", "", "Why a tier is being lowered")
	taskUpdateCmd.Flags().StringVar(&taskApprovedBy, "approved-by", "", "Human approving a critical-tier decision")

	taskClaimCmd.Flags().StringVar(&taskActor, "as", "", "Claiming agent name (required)")
	taskClaimCmd.Flags().StringVar(&taskApprovedBy, "approved-by", "", "Human sign-off, required for critical tier")
	taskClaimCmd.MarkFlagRequired("as")

	taskCompleteCmd.Flags().StringVar(&taskActor, "as", "", "Completing agent (name@team)")
	taskCompleteCmd.Flags().BoolVar(&taskConflictCheck, "conflict-check", false, "Conflict check passed")
	taskCompleteCmd.Flags().BoolVar(&taskTargetedTests, "targeted-tests", false, "Targeted tests passed")
	taskCompleteCmd.Flags().BoolVar(&taskFullSuite, "full-suite", false, "Full test suite passed")
	taskCompleteCmd.Flags().BoolVar(&taskReviewed, "reviewed", false, "Review approved")
	taskCompleteCmd.Flags().StringVar(&taskApprovedBy, "approved-by", "", "Human sign-off, required for critical tier")

	taskCheckpointCmd.Flags().StringVar(&taskActor, "as", "", "Acting agent (name@team); owner or lead")
	taskCheckpointCmd.Flags().StringVar(&taskCommit, "commit", "", "Git commit hash the work is checkpointed at")
	taskCheckpointCmd.Flags().IntVar(&taskPercent, "percent", 0, "Estimated percent complete (0-100)")
	taskCheckpointCmd.Flags().StringVar(&taskLastAction, "last-action", "", "What the agent was doing")
	taskCheckpointCmd.Flags().StringSliceVar(&taskFiles, "files", nil, "Files touched so far")

	taskDeleteCmd.Flags().StringVar(&taskActor, "as", "", "Acting agent (name@team)")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd, taskUpdateCmd, taskClaimCmd, taskCompleteCmd, taskCheckpointCmd, taskDeleteCmd)
	rootCmd.AddCommand(taskCmd)
}

func parseTaskID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func approval() *admission.Approval {
	if taskApprovedBy == "" {
		return nil
	}
	return &admission.Approval{By: taskApprovedBy, At: time.Now().UTC()}
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	tier, err := board.ParseRiskTier(taskTier)
	if err != nil {
		return err
	}
	task, err := k.graph.Create(context.Background(), graph.CreateRequest{
		Subject:     args[0],
		Description: taskDescription,
		Owner:       taskOwner,
		BlockedBy:   taskBlockedBy,
		RiskTier:    tier,
	})
	if err != nil {
		return printer.Error("Failed to create task", err.Error(), nil)
	}
	printer.Success("Task %d created: %s\n", task.ID, task.Subject)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	tasks, err := k.graph.List(context.Background())
	if err != nil {
		return err
	}
	if taskListStatus != "" {
		filtered := tasks[:0]
		for _, task := range tasks {
			if task.Status.String() == taskListStatus {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}

	if taskListJSON {
		out, err := json.MarshalIndent(tasks, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found.")
		fmt.Println()
		fmt.Println("Run 'warren task create <subject>' to add one.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Status", "Tier", "Owner", "Blocked By", "Subject")
	for _, task := range tasks {
		owner := task.Owner
		if owner == "" {
			owner = "-"
		}
		table.Append(
			strconv.Itoa(task.ID),
			task.Status.String(),
			printer.Tier(task.Metadata.RiskTier),
			owner,
			intList(task.BlockedBy),
			task.Subject,
		)
	}
	table.Render()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	task, err := k.graph.Get(context.Background(), id)
	if err != nil {
		return err
	}

	printer.Printf("Task %d: %s\n", task.ID, task.Subject)
	printer.Printf("  Status:      %s\n", task.Status)
	printer.Printf("  Tier:        %s\n", printer.Tier(task.Metadata.RiskTier))
	if task.Owner != "" {
		printer.Printf("  Owner:       %s (claimed %s, expiry %ds)\n",
			task.Owner, task.Metadata.ClaimedAt.Format(time.RFC3339), task.Metadata.ClaimExpirySeconds)
	}
	if len(task.BlockedBy) > 0 {
		printer.Printf("  Blocked by:  %s\n", intList(task.BlockedBy))
	}
	if len(task.Blocks) > 0 {
		printer.Printf("  Blocks:      %s\n", intList(task.Blocks))
	}
	if task.Description != "" {
		printer.Printf("\n%s\n", task.Description)
	}
	if cp := task.Metadata.Checkpoint; cp != nil {
		printer.Printf("\nCheckpoint: %d%% done", cp.PercentComplete)
		if cp.Commit != "" {
			printer.Printf(" at %s", cp.Commit)
		}
		printer.Printf("\n")
		if cp.LastAction != "" {
			printer.Printf("  Last action: %s\n", cp.LastAction)
		}
		if len(cp.Files) > 0 {
			printer.Printf("  Files: %s\n", strings.Join(cp.Files, ", "))
		}
	}
	return nil
}

func runTaskUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()
	ctx := context.Background()

	// Tier changes run through the admission rules first, on their own.
	if taskTier != "" {
		tier, err := board.ParseRiskTier(taskTier)
		if err != nil {
			return err
		}
		if _, err := k.admission.SetTier(ctx, id, taskActor, tier, taskJustification, approval()); err != nil {
			return printer.Error("Tier change refused", err.Error(), nil)
		}
		printer.Success("Task %d tier set to %s\n", id, tier)
	}

	req := graph.UpdateRequest{
		Actor:           taskActor,
		AddBlockedBy:    taskAddBlockedBy,
		RemoveBlockedBy: taskRmBlockedBy,
	}
	changed := len(taskAddBlockedBy) > 0 || len(taskRmBlockedBy) > 0
	if taskSubject != "" {
		req.Subject = &taskSubject
		changed = true
	}
	if taskDescription != "" {
		req.Description = &taskDescription
		changed = true
	}
	if taskStatusFlag != "" {
		status, err := board.ParseTaskStatus(taskStatusFlag)
		if err != nil {
			return err
		}
		req.Status = &status
		changed = true
	}
	if taskOwner != "" {
		req.Owner = &taskOwner
		changed = true
	}
	if !changed {
		return nil
	}

	task, err := k.graph.Update(ctx, id, req)
	if err != nil {
		return printer.Error(fmt.Sprintf("Failed to update task %d", id), err.Error(), nil)
	}
	printer.Success("Task %d updated (status: %s)\n", task.ID, task.Status)
	return nil
}

func runTaskClaim(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()
	ctx := context.Background()

	team, err := k.roster.Get(ctx, k.cfg.Team)
	if err != nil {
		return err
	}
	member := team.Member(taskActor)
	if member == nil {
		return printer.Error(
			fmt.Sprintf("Agent '%s' is not in team '%s'", taskActor, k.cfg.Team),
			"Only registered team members can claim tasks.",
			[]string{"Run 'warren team show' to list the roster"},
		)
	}

	task, err := k.admission.Claim(ctx, id, *member, approval())
	if err != nil {
		return printer.Error(fmt.Sprintf("Claim refused for task %d", id), err.Error(), nil)
	}
	printer.Success("Task %d claimed by %s (expiry %ds)\n", task.ID, task.Owner, task.Metadata.ClaimExpirySeconds)
	return nil
}

func runTaskComplete(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	// Inside a Git repository the conflict check is verified against the
	// working tree rather than taken on trust: uncommitted changes mean the
	// work has not been integrated with shared state yet.
	if taskConflictCheck {
		checker := git.NewChecker()
		if isRepo, err := checker.IsGitRepository(); err == nil && isRepo {
			clean, err := checker.IsWorkspaceClean()
			if err != nil {
				return err
			}
			if !clean {
				dirty, _ := checker.GetDirtyFiles()
				return printer.Error(
					fmt.Sprintf("Conflict check failed for task %d", id),
					dirty,
					[]string{"Commit your changes, then retry the completion"},
				)
			}
		}
	}

	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	task, err := k.admission.Complete(context.Background(), id, taskActor, admission.Evidence{
		ConflictCheckPassed: taskConflictCheck,
		TargetedTestsPassed: taskTargetedTests,
		FullSuitePassed:     taskFullSuite,
		ReviewApproved:      taskReviewed,
		HumanApproval:       approval(),
	})
	if err != nil {
		return printer.Error(fmt.Sprintf("Completion refused for task %d", id), err.Error(), nil)
	}
	printer.Success("Task %d completed\n", task.ID)
	return nil
}

func runTaskCheckpoint(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	if taskPercent < 0 || taskPercent > 100 {
		return fmt.Errorf("invalid --percent %d: must be between 0 and 100", taskPercent)
	}

	if taskCommit != "" {
		checker := git.NewChecker()
		if isRepo, err := checker.IsGitRepository(); err == nil && isRepo {
			exists, err := checker.CommitExists(taskCommit)
			if err != nil {
				return err
			}
			if !exists {
				return printer.Error(
					fmt.Sprintf("Commit '%s' not found in this repository", taskCommit),
					"A checkpoint commit must exist so a replacement agent can resume from it.",
					[]string{"Commit your work first, then checkpoint with the resulting hash"},
				)
			}
		}
	}

	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	task, err := k.graph.Update(context.Background(), id, graph.UpdateRequest{
		Actor: taskActor,
		Checkpoint: &board.Checkpoint{
			Commit:          taskCommit,
			PercentComplete: taskPercent,
			LastAction:      taskLastAction,
			Files:           taskFiles,
		},
	})
	if err != nil {
		return printer.Error(fmt.Sprintf("Failed to checkpoint task %d", id), err.Error(), nil)
	}
	printer.Success("Task %d checkpointed at %d%%\n", task.ID, taskPercent)
	return nil
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	if err := k.graph.Delete(context.Background(), id, taskActor); err != nil {
		return printer.Error(fmt.Sprintf("Failed to delete task %d", id), err.Error(), nil)
	}
	printer.Success("Task %d deleted\n", id)
	return nil
}

func intList(ids []int) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
