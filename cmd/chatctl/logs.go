package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/creastat/console/app"
	"github.com/creastat/console/logs"
)

var (
	logsTab    string
	logsSearch string
	logsLimit  int
	logsOutDir string
)

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsExportCmd)

	logsCmd.PersistentFlags().StringVar(&logsTab, "level", string(logs.TabAll), "Level tab: all, debug, info, warn or error")
	logsCmd.PersistentFlags().StringVar(&logsSearch, "search", "", "Case-insensitive text filter on message and source")
	logsCmd.PersistentFlags().IntVar(&logsLimit, "limit", logs.DefaultLimit, "Number of newest rows to fetch")
	logsExportCmd.Flags().StringVar(&logsOutDir, "out", ".", "Directory the export file is written to")
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View and export system logs (admin only)",
}

// fetchLogs loads and filters rows according to the logs flags.
func fetchLogs(ctx context.Context, a *app.App) error {
	if err := a.Logs.SetActiveTab(logs.Tab(logsTab)); err != nil {
		return err
	}
	a.Logs.SetSearch(logsSearch)
	return a.Logs.Fetch(ctx, logsLimit)
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List system logs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := fetchLogs(ctx, a); err != nil {
				return err
			}
			rows := a.Logs.Filtered()
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), rows)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tLEVEL\tSOURCE\tMESSAGE")
			for _, e := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.Timestamp.Format(time.DateTime), e.Level, e.Source, truncate(e.Message, 80))
			}
			return w.Flush()
		})
	},
}

var logsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the filtered logs to a JSON file",
	Long: `Export the filtered logs to system-logs-<timestamp>.json.

Examples:
  # Export the newest 100 error rows
  chatctl logs export --level error

  # Export rows mentioning "timeout" to /tmp
  chatctl logs export --search timeout --out /tmp`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := fetchLogs(ctx, a); err != nil {
				return err
			}
			path := filepath.Join(logsOutDir, logs.ExportFileName(time.Now()))
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			if err := a.Logs.Export(f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write export file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d row(s) to %s\n", len(a.Logs.Filtered()), path)
			return nil
		})
	},
}
