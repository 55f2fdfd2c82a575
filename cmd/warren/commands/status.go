package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/board"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show team health and task progress",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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
	tasks, err := k.graph.List(ctx)
	if err != nil {
		return err
	}

	printer.Printf("Team: %s (lead: %s)\n\n", team.Name, team.Lead)
	renderRoster(team)

	counts := map[board.TaskStatus]int{}
	for _, task := range tasks {
		counts[task.Status]++
	}
	printer.Printf("\nTasks: %d total, %d pending, %d in progress, %d completed\n",
		len(tasks), counts[board.StatusPending], counts[board.StatusInProgress], counts[board.StatusCompleted])

	inFlight := false
	for _, task := range tasks {
		if task.Status == board.StatusInProgress {
			if !inFlight {
				printer.Printf("\nIn progress:\n")
				inFlight = true
			}
			printer.Printf("  %d [%s] %s  (%s)\n", task.ID, printer.Tier(task.Metadata.RiskTier), task.Subject, task.Owner)
		}
	}
	return nil
}

// renderRoster prints the member table shared by status and team show.
func renderRoster(team *board.TeamConfig) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Name", "Role", "Health", "Last Heartbeat", "Stalls")
	for _, member := range team.Members {
		heartbeat := "-"
		if !member.Health.LastHeartbeat.IsZero() {
			heartbeat = member.Health.LastHeartbeat.Format("2006-01-02 15:04:05")
		}
		name := member.Name
		if board.AgentID(name, team.Name) == team.Lead {
			name = fmt.Sprintf("%s (lead)", name)
		}
		table.Append(
			name,
			string(member.Role),
			printer.Health(member.Health.Status),
			heartbeat,
			strconv.Itoa(member.Health.StallCount),
		)
	}
	table.Render()
}
