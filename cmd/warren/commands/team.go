package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/board"
)

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Manage the team registry",
}

var teamCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register the team from warren.yml on the board",
	Long: `Register the team on the board: the lead is created first, then every
other agent defined in warren.yml joins as a member.`,
	RunE: runTeamCreate,
}

var teamAddCmd = &cobra.Command{
	Use:   "add <name> <role>",
	Short: "Add a member to the team",
	Args:  cobra.ExactArgs(2),
	RunE:  runTeamAdd,
}

var teamRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a member from the team",
	Long: `Remove a member from the team. The lead cannot be removed while other
members remain; the last member leaves by deleting the team.`,
	Args: cobra.ExactArgs(1),
	RunE: runTeamRemove,
}

var teamDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the team",
	Long:  `Delete the team. Only allowed once every member except the lead has been removed.`,
	RunE:  runTeamDelete,
}

var teamShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the team roster",
	RunE:  runTeamShow,
}

func init() {
	teamCmd.AddCommand(teamCreateCmd, teamAddCmd, teamRemoveCmd, teamDeleteCmd, teamShowCmd)
	rootCmd.AddCommand(teamCmd)
}

func runTeamCreate(cmd *cobra.Command, args []string) error {
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()
	ctx := context.Background()

	leadRole := board.Role(k.cfg.Agents[k.cfg.Lead].Role)
	if _, err := k.roster.Create(ctx, k.cfg.Team, k.cfg.Lead, leadRole); err != nil {
		return printer.Error(
			fmt.Sprintf("Failed to create team '%s'", k.cfg.Team),
			err.Error(),
			[]string{"Check whether the team already exists with 'warren team show'"},
		)
	}
	printer.Success("Team '%s' created with lead '%s'\n", k.cfg.Team, k.cfg.Lead)

	for name, agent := range k.cfg.Agents {
		if name == k.cfg.Lead {
			continue
		}
		if _, err := k.roster.AddMember(ctx, k.cfg.Team, name, board.Role(agent.Role)); err != nil {
			return printer.Error(
				fmt.Sprintf("Failed to add member '%s'", name),
				err.Error(),
				nil,
			)
		}
		printer.Success("Member '%s' (%s) joined\n", name, agent.Role)
	}
	return nil
}

func runTeamAdd(cmd *cobra.Command, args []string) error {
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	name, role := args[0], board.Role(args[1])
	if _, err := k.roster.AddMember(context.Background(), k.cfg.Team, name, role); err != nil {
		return printer.Error(
			fmt.Sprintf("Failed to add member '%s'", name),
			err.Error(),
			[]string{"Valid roles: implementer, researcher, tester, reviewer, architect"},
		)
	}
	printer.Success("Member '%s' (%s) joined team '%s'\n", name, role, k.cfg.Team)
	return nil
}

func runTeamRemove(cmd *cobra.Command, args []string) error {
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	if err := k.roster.RemoveMember(context.Background(), k.cfg.Team, args[0]); err != nil {
		return printer.Error(
			fmt.Sprintf("Failed to remove member '%s'", args[0]),
			err.Error(),
			[]string{"The lead leaves last, via 'warren team delete'"},
		)
	}
	printer.Success("Member '%s' removed from team '%s'\n", args[0], k.cfg.Team)
	return nil
}

func runTeamDelete(cmd *cobra.Command, args []string) error {
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	if err := k.roster.Delete(context.Background(), k.cfg.Team); err != nil {
		return printer.Error(
			fmt.Sprintf("Failed to delete team '%s'", k.cfg.Team),
			err.Error(),
			[]string{"Remove all non-lead members first with 'warren team remove <name>'"},
		)
	}
	printer.Success("Team '%s' deleted\n", k.cfg.Team)
	return nil
}

func runTeamShow(cmd *cobra.Command, args []string) error {
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	team, err := k.roster.Get(context.Background(), k.cfg.Team)
	if err != nil {
		return err
	}

	printer.Printf("Team: %s (lead: %s)\n\n", team.Name, team.Lead)
	renderRoster(team)
	return nil
}
