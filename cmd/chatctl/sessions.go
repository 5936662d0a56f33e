package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/creastat/console"
	"github.com/creastat/console/app"
	"github.com/creastat/console/session"
)

var (
	sessTitle string
	sessMode  string
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsRenameCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsCleanupCmd)

	sessionsCreateCmd.Flags().StringVar(&sessTitle, "title", "", "Session title (defaults to \"New Chat\")")
	sessionsCreateCmd.Flags().StringVar(&sessMode, "mode", string(console.ModeChat), "Mode: chat, dev, image or training")
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently used first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			sessions := a.Sessions.Sessions()
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions found")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMODE\tTOKENS\tLAST ACCESSED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					s.ID,
					truncate(s.Title, 40),
					s.Mode,
					s.TokensUsed,
					s.LastAccessed.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		})
	},
}

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session and make it current",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			id, err := a.Sessions.Create(ctx, session.CreateParams{
				Title: sessTitle,
				Mode:  console.Mode(sessMode),
			})
			if err != nil {
				return err
			}
			current, _ := a.Sessions.Current()
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), current)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session created: %s (%s)\n", id, current.Title)
			return nil
		})
	},
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <session-id> <title>",
	Short: "Rename a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Sessions.Rename(ctx, args[0], strings.Join(args[1:], " "))
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Sessions.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session deleted: %s\n", args[0])
			return nil
		})
	},
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete sessions not used within the retention window",
	Long: `Delete sessions whose last access is older than sessions.retention_days.

Examples:
  # Remove sessions idle for more than 30 days (the default)
  chatctl sessions cleanup

  # Use a shorter window
  CONSOLE_SESSIONS_RETENTION_DAYS=7 chatctl sessions cleanup`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Sessions.CleanupInactive(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), map[string]int{"deleted": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d inactive session(s)\n", n)
			return nil
		})
	},
}
