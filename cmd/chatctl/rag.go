package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/creastat/console/app"
	"github.com/creastat/console/rag"
)

var (
	ragProjects []string
	ragLimit    int
	ragMinScore float32
)

func init() {
	rootCmd.AddCommand(ragCmd)
	ragCmd.AddCommand(ragStatusCmd)
	ragCmd.AddCommand(ragIndexCmd)
	ragCmd.AddCommand(ragSearchCmd)
	ragCmd.AddCommand(ragUpgradeCmd)
	ragCmd.AddCommand(ragMigrateCmd)

	ragSearchCmd.Flags().StringSliceVar(&ragProjects, "project", nil, "Restrict results to these projects")
	ragSearchCmd.Flags().IntVar(&ragLimit, "limit", 5, "Maximum number of results")
	ragSearchCmd.Flags().Float32Var(&ragMinScore, "min-score", 0, "Drop results scoring below this")
}

var ragCmd = &cobra.Command{
	Use:   "rag",
	Short: "Inspect the RAG tier and search indexed projects",
}

type ragStatus struct {
	Tier          string  `json:"tier"`
	VectorCount   int     `json:"vector_count"`
	MaxVectors    int     `json:"max_vectors"`
	Usage         float64 `json:"usage"`
	ShouldMigrate bool    `json:"should_migrate"`
	Premium       bool    `json:"premium"`
}

var ragStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the tier, vector usage and migration advice",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			state, err := a.RAG.Refresh(ctx)
			if err != nil {
				return err
			}
			out := ragStatus{
				Tier:          string(state.Tier),
				VectorCount:   state.VectorCount,
				MaxVectors:    state.Limits.MaxVectors,
				Usage:         state.Usage(),
				ShouldMigrate: a.RAG.ShouldMigrateToPremium(),
				Premium:       a.RAG.CanUsePremiumRAG(),
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), out)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tier:    %s\n", out.Tier)
			if out.MaxVectors > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Vectors: %d / %d (%.0f%%)\n", out.VectorCount, out.MaxVectors, out.Usage*100)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Vectors: %d\n", out.VectorCount)
			}
			if out.ShouldMigrate {
				fmt.Fprintln(cmd.OutOrStdout(), "Usage is high: consider `chatctl rag upgrade`")
			}
			return nil
		})
	},
}

var ragIndexCmd = &cobra.Command{
	Use:   "index <project-id>",
	Short: "Index a project into the tier's vector store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.RAG.IndexProject(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d vector(s) for %s\n", n, args[0])
			return nil
		})
	},
}

var ragSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed projects",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			results, err := a.RAG.Search(ctx, strings.Join(args, " "),
				rag.InProjects(ragProjects...),
				rag.Limit(ragLimit),
				rag.MinScore(ragMinScore),
			)
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(cmd.OutOrStdout(), results)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tPROJECT\tDOCUMENT\tCONTENT")
			for _, r := range results {
				fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n",
					r.Score, r.SourceID, r.DocumentID,
					truncate(strings.ReplaceAll(r.Content, "\n", " "), 60))
			}
			return w.Flush()
		})
	},
}

var ragUpgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade to the premium RAG tier",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.RAG.UpgradeToRagPremium(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Premium RAG enabled")
			return nil
		})
	},
}

var ragMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move standard-tier vectors into the premium store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.RAG.MigrateToPremium(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d vector(s)\n", n)
			return nil
		})
	},
}
