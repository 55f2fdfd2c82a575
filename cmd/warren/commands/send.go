package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/board"
)

var (
	sendFrom      string
	sendType      string
	sendSummary   string
	sendBroadcast bool
)

var sendCmd = &cobra.Command{
	Use:   "send <to> <text>",
	Short: "Send a message to an agent's inbox",
	Long: `Send a message to one agent's inbox, or to every team member with
--broadcast. Broadcast delivery is per-recipient: failures are reported
but successful deliveries stand.`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "Sender (name@team); defaults to the lead")
	sendCmd.Flags().StringVar(&sendType, "type", "", "Protocol message type (heartbeat, health_check, stall_alert, task_assignment, shutdown_request, shutdown_response)")
	sendCmd.Flags().StringVar(&sendSummary, "summary", "", "One-line summary")
	sendCmd.Flags().BoolVar(&sendBroadcast, "broadcast", false, "Deliver to every team member except the sender")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()
	ctx := context.Background()

	from := sendFrom
	if from == "" {
		from = board.AgentID(k.cfg.Lead, k.cfg.Team)
	}
	msg := board.Message{
		From:    from,
		Text:    args[1],
		Type:    board.MessageType(sendType),
		Summary: sendSummary,
	}

	if sendBroadcast {
		fromName, _, err := board.SplitAgentID(from)
		if err != nil {
			return err
		}
		if err := k.inbox.Broadcast(ctx, k.cfg.Team, fromName, msg); err != nil {
			return printer.Error("Broadcast partially failed", err.Error(),
				[]string{"Successful deliveries stand; resend to the listed recipients if needed"})
		}
		printer.Success("Broadcast sent to team '%s'\n", k.cfg.Team)
		return nil
	}

	if err := k.inbox.Send(ctx, k.cfg.Team, args[0], msg); err != nil {
		return printer.Error("Failed to send message", err.Error(), nil)
	}
	printer.Success("Message sent to %s\n", board.AgentID(args[0], k.cfg.Team))
	return nil
}
