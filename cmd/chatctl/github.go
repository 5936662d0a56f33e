package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/creastat/console/app"
)

func init() {
	rootCmd.AddCommand(githubCmd)
	githubCmd.AddCommand(githubStatusCmd)
	githubCmd.AddCommand(githubConnectCmd)
	githubCmd.AddCommand(githubDisconnectCmd)
	githubCmd.AddCommand(githubDefaultCmd)
}

var githubCmd = &cobra.Command{
	Use:   "github",
	Short: "Manage linked GitHub accounts",
}

var githubStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the GitHub connection state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			status, err := a.GitHub.CheckConnectionStatus(ctx)
			if err != nil {
				return err
			}
			accounts := a.GitHub.Accounts()
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), map[string]any{"status": status, "accounts": accounts})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Status: %s\n", status)
			if len(accounts) == 0 {
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tDEFAULT\tSTATUS")
			for _, acc := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", acc.ID, acc.Username, acc.Default, acc.Status)
			}
			return w.Flush()
		})
	},
}

var githubConnectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Link a GitHub account through the browser",
	Long: `Link a GitHub account. chatctl prints the authorize URL and serves the
OAuth redirect on github.callback_addr until GitHub redirects back or the
command is interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.ConnectGitHub(ctx); err != nil {
				return err
			}
			acc, ok := a.GitHub.DefaultAccount()
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Connected as %s\n", acc.Username)
			}
			return nil
		})
	},
}

var githubDisconnectCmd = &cobra.Command{
	Use:   "disconnect [account-id]",
	Short: "Unlink one account, or all accounts when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return a.GitHub.Disconnect(ctx, id)
		})
	},
}

var githubDefaultCmd = &cobra.Command{
	Use:   "default <account-id>",
	Short: "Make an account the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.GitHub.SetDefaultAccount(ctx, args[0])
		})
	},
}
