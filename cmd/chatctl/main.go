// Package main implements chatctl, a command-line client for the chat console backend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/creastat/console/app"
	"github.com/creastat/console/config"
	"github.com/creastat/console/github"
)

var (
	// configPath is the YAML config file; environment variables override it.
	configPath string
	// jsonOutput switches every command to JSON output.
	jsonOutput bool
	// version information
	version = "dev"
)

// openApp builds an App and signs in with the configured credentials.
var openApp = func(ctx context.Context, stderr io.Writer) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Auth.Email == "" || !cfg.Auth.Password.IsSet() {
		return nil, fmt.Errorf("auth.email and auth.password are required (CONSOLE_AUTH_EMAIL, CONSOLE_AUTH_PASSWORD)")
	}

	a, err := app.New(cfg, app.WithOpener(github.OpenerFunc(func(_ context.Context, url string) error {
		_, err := fmt.Fprintf(stderr, "Open this URL to authorize GitHub:\n\n  %s\n\n", url)
		return err
	})))
	if err != nil {
		return nil, err
	}
	if _, err := a.SignIn(ctx, cfg.Auth.Email, cfg.Auth.Password.Value()); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "CLI for the chat console backend",
	Long: `chatctl signs in to the chat console backend and manages sessions,
messages, provider configurations, GitHub connections, RAG tiers and system logs.

Credentials and backend settings come from the config file and CONSOLE_* environment variables.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "console.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
}

// withApp opens a signed-in App for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
