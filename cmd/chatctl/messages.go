package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/creastat/console"
	"github.com/creastat/console/app"
)

var (
	msgRole     string
	msgComplete bool
)

func init() {
	rootCmd.AddCommand(messagesCmd)
	messagesCmd.AddCommand(messagesListCmd)
	messagesCmd.AddCommand(messagesSendCmd)

	messagesSendCmd.Flags().StringVar(&msgRole, "role", string(console.RoleUser), "Message role: user, assistant or system")
	messagesSendCmd.Flags().BoolVar(&msgComplete, "complete", false, "Request an assistant reply after sending")
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Read and send session messages",
}

var messagesListCmd = &cobra.Command{
	Use:   "list <session-id>",
	Short: "List the messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Sessions.Switch(ctx, args[0]); err != nil {
				return err
			}
			return printMessages(cmd, a.Messages.Messages())
		})
	},
}

var messagesSendCmd = &cobra.Command{
	Use:   "send <session-id> <content>",
	Short: "Send a message to a session",
	Long: `Send a message to a session. A failed send is retried once before giving up.

Examples:
  chatctl messages send 6f1c... "Summarise the last deploy"
  chatctl messages send 6f1c... --complete "What changed in the auth flow?"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sessionID := args[0]
			if err := a.Sessions.Switch(ctx, sessionID); err != nil {
				return err
			}
			id, err := a.Messages.Send(ctx, strings.Join(args[1:], " "), sessionID, console.Role(msgRole))
			if err != nil {
				if id == "" {
					return err
				}
				if id, err = a.Messages.Retry(ctx, id); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Message sent: %s\n", id)

			if msgComplete {
				if _, err := a.Messages.Complete(ctx, sessionID); err != nil {
					return err
				}
			}
			return printMessages(cmd, a.Messages.Messages())
		})
	},
}

func printMessages(cmd *cobra.Command, msgs []console.Message) error {
	if jsonOutput {
		return outputJSON(cmd.OutOrStdout(), msgs)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tROLE\tSTATUS\tCONTENT")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			m.CreatedAt.Format("15:04:05"),
			m.Role,
			m.Status,
			truncate(strings.ReplaceAll(m.Content, "\n", " "), 80))
	}
	return w.Flush()
}
