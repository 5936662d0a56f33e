package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/creastat/console"
	"github.com/creastat/console/app"
	"github.com/creastat/console/provider"
)

var (
	provName      string
	provSecretEnv string
	provDefault   bool
)

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersAddCmd)
	providersCmd.AddCommand(providersValidateCmd)
	providersCmd.AddCommand(providersDeleteCmd)

	providersAddCmd.Flags().StringVar(&provName, "name", "", "Memorable name (required)")
	providersAddCmd.Flags().StringVar(&provSecretEnv, "secret-env", "", "Read the API key from this environment variable instead of stdin")
	providersAddCmd.Flags().BoolVar(&provDefault, "default", false, "Make this the default configuration for its provider")
	_ = providersAddCmd.MarkFlagRequired("name")
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage LLM provider configurations",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provider configurations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			configs := a.Providers.Configurations()
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), configs)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROVIDER\tNAME\tENABLED\tDEFAULT\tVALIDATION")
			for _, c := range configs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\n",
					c.ID, c.APIType, truncate(c.MemorableName, 30), c.IsEnabled, c.IsDefault, c.ValidationStatus)
			}
			return w.Flush()
		})
	},
}

var providersAddCmd = &cobra.Command{
	Use:   "add <provider>",
	Short: "Add a provider configuration",
	Long: `Add a provider configuration. The API key is stored server-side and never written locally.

Providers: openai, anthropic, gemini, huggingface, github, pinecone.

Examples:
  # Read the key from stdin
  echo "$OPENAI_API_KEY" | chatctl providers add openai --name "Team key"

  # Read the key from an environment variable
  chatctl providers add anthropic --name Claude --secret-env ANTHROPIC_API_KEY --default`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := readSecret(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			cfg, err := a.Providers.Create(ctx, console.APIType(args[0]), provider.CreateOptions{
				MemorableName: provName,
				Secret:        secret,
				IsDefault:     provDefault,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), cfg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration added: %s\n", cfg.ID)
			return nil
		})
	},
}

var providersValidateCmd = &cobra.Command{
	Use:   "validate <configuration-id>",
	Short: "Test a configuration against its provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			cfg, ok := a.Providers.Get(args[0])
			if !ok {
				return fmt.Errorf("configuration %s: %w", args[0], console.ErrNotFound)
			}
			status, err := a.Providers.Validate(ctx, cfg)
			if jsonOutput {
				if jerr := outputJSON(cmd.OutOrStdout(), map[string]any{"id": cfg.ID, "validation_status": status}); jerr != nil {
					return jerr
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cfg.MemorableName, status)
			}
			return err
		})
	},
}

var providersDeleteCmd = &cobra.Command{
	Use:   "delete <configuration-id>",
	Short: "Delete a configuration and its stored secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Providers.Delete(ctx, args[0])
		})
	},
}

func readSecret(cmd *cobra.Command) (string, error) {
	if provSecretEnv != "" {
		v := strings.TrimSpace(os.Getenv(provSecretEnv))
		if v == "" {
			return "", fmt.Errorf("environment variable %s is empty", provSecretEnv)
		}
		return v, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("failed to read secret from stdin: %w", err)
		}
		return "", fmt.Errorf("no secret provided on stdin")
	}
	return line, nil
}
