package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/inbox"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/board"
)

var (
	inboxUnread   bool
	inboxMarkRead bool
)

var inboxCmd = &cobra.Command{
	Use:   "inbox <agent>",
	Short: "Read an agent's inbox in arrival order",
	Args:  cobra.ExactArgs(1),
	RunE:  runInbox,
}

func init() {
	inboxCmd.Flags().BoolVar(&inboxUnread, "unread", false, "Only unread messages")
	inboxCmd.Flags().BoolVar(&inboxMarkRead, "mark-read", false, "Mark returned messages as read")
	rootCmd.AddCommand(inboxCmd)
}

func runInbox(cmd *cobra.Command, args []string) error {
	k, err := openKernel()
	if err != nil {
		return err
	}
	defer k.Close()

	msgs, err := k.inbox.Read(context.Background(), k.cfg.Team, args[0], inbox.ReadOptions{
		UnreadOnly: inboxUnread,
		MarkRead:   inboxMarkRead,
	})
	if err != nil {
		if board.IsNotFound(err) {
			printer.Printf("Inbox for %s is empty.\n", board.AgentID(args[0], k.cfg.Team))
			return nil
		}
		return err
	}
	if len(msgs) == 0 {
		printer.Printf("Inbox for %s is empty.\n", board.AgentID(args[0], k.cfg.Team))
		return nil
	}

	for _, msg := range msgs {
		marker := " "
		if !msg.Read {
			marker = "*"
		}
		kind := string(msg.Type)
		if kind == "" {
			kind = "note"
		}
		printer.Printf("%s [%s] %s  from %s\n", marker, msg.Timestamp.Format("2006-01-02 15:04:05"), kind, msg.From)
		if msg.Summary != "" {
			printer.Printf("    %s\n", msg.Summary)
		} else if msg.Text != "" {
			printer.Printf("    %s\n", msg.Text)
		}
	}
	return nil
}
