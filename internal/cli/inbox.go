package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/mail"
	"github.com/droverhq/drover/internal/output"
)

func newInboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Read agent mail",
		Long: `Read the calling agent's mail from the agent-mail service.

Read state is tracked locally in .beads/mail-read.jsonl; it is per host
and never synchronized.

Subcommands:
  list  Show unread messages (--all includes read ones)
  read  Mark a message read
  ack   Acknowledge an ack-required message

Examples:
  drover inbox list
  drover inbox read 42
  drover inbox ack 42`,
	}

	cmd.AddCommand(newInboxListCmd(), newInboxReadCmd(), newInboxAckCmd())
	return cmd
}

// InboxResponse lists inbox messages.
type InboxResponse struct {
	output.TimestampedResponse
	Agent    string              `json:"agent"`
	Messages []mail.InboxMessage `json:"messages"`
	Count    int                 `json:"count"`
}

func newInboxListCmd() *cobra.Command {
	var (
		all    bool
		urgent bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show unread messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, agent, err := inboxIdentity()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			messages, err := newMailClient().FetchInbox(ctx, mail.FetchInboxOptions{
				ProjectKey: config.ProjectKey(paths.Root),
				AgentName:  agent,
				UrgentOnly: urgent,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			if !all {
				messages, err = mail.NewReadLog(paths.MailReadLog()).
					Unread(config.ProjectKey(paths.Root), agent, messages)
				if err != nil {
					return err
				}
			}

			resp := InboxResponse{
				TimestampedResponse: output.NewTimestamped(),
				Agent:               agent,
				Messages:            messages,
				Count:               len(messages),
			}
			if IsJSONOutput() {
				return output.PrintJSON(resp)
			}
			if len(messages) == 0 {
				fmt.Println("Inbox is empty")
				return nil
			}
			table := output.NewTable(os.Stdout, "ID", "FROM", "IMPORTANCE", "SUBJECT")
			for _, msg := range messages {
				table.AddRow(strconv.Itoa(msg.ID), msg.From, msg.Importance, msg.Subject)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include locally-read messages")
	cmd.Flags().BoolVar(&urgent, "urgent", false, "Urgent messages only")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum messages to fetch")
	return cmd
}

// InboxMarkResponse reports a read or ack.
type InboxMarkResponse struct {
	output.TimestampedResponse
	Agent     string `json:"agent"`
	MessageID int    `json:"message_id"`
	Action    string `json:"action"`
}

func newInboxReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <message-id>",
		Short: "Mark a message read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return markMessage(args[0], "read")
		},
	}
}

func newInboxAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <message-id>",
		Short: "Acknowledge an ack-required message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return markMessage(args[0], "ack")
		},
	}
}

func markMessage(idArg, action string) error {
	id, err := strconv.Atoi(idArg)
	if err != nil {
		return fmt.Errorf("invalid message id %q", idArg)
	}
	paths, agent, err := inboxIdentity()
	if err != nil {
		return err
	}
	projectKey := config.ProjectKey(paths.Root)

	ctx, cancel := commandContext()
	defer cancel()

	client := newMailClient()
	switch action {
	case "ack":
		err = client.AcknowledgeMessage(ctx, projectKey, agent, id)
	default:
		err = client.MarkMessageRead(ctx, projectKey, agent, id)
	}
	if err != nil {
		return err
	}
	if err := mail.NewReadLog(paths.MailReadLog()).
		Mark(projectKey, agent, mail.InboxMessage{ID: id}); err != nil {
		output.PrintWarningf("recording local read state: %v", err)
	}

	resp := InboxMarkResponse{
		TimestampedResponse: output.NewTimestamped(),
		Agent:               agent,
		MessageID:           id,
		Action:              action,
	}
	if IsJSONOutput() {
		return output.PrintJSON(resp)
	}
	if action == "ack" {
		fmt.Printf("Message %d acknowledged\n", id)
	} else {
		fmt.Printf("Message %d marked read\n", id)
	}
	return nil
}

func inboxIdentity() (config.Paths, string, error) {
	paths, err := getPaths()
	if err != nil {
		return config.Paths{}, "", err
	}
	agent := callerAgent()
	if agent == "" {
		return config.Paths{}, "", fmt.Errorf("no agent identity: set AGENT_NAME or sender_name in config")
	}
	return paths, agent, nil
}
