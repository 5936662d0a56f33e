package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/creastat/console"
	"github.com/creastat/console/app"
	"github.com/creastat/console/prefs"
)

var (
	prefDocking string
	prefTheme   string
	prefScale   float64
)

func init() {
	rootCmd.AddCommand(prefsCmd)
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsModeCmd)
	prefsCmd.AddCommand(prefsLayoutCmd)

	prefsLayoutCmd.Flags().StringVar(&prefDocking, "docking", "", "Docking: right, left, bottom or floating")
	prefsLayoutCmd.Flags().StringVar(&prefTheme, "theme", "", "Theme: system, light or dark")
	prefsLayoutCmd.Flags().Float64Var(&prefScale, "scale", 0, "UI scale factor")
}

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show and change console preferences",
}

type prefsView struct {
	Mode   console.Mode `json:"mode"`
	Layout prefs.Layout `json:"layout"`
}

func printPrefs(cmd *cobra.Command, a *app.App) error {
	view := prefsView{Mode: a.Prefs.Mode(), Layout: a.Prefs.Layout()}
	if jsonOutput {
		return outputJSON(cmd.OutOrStdout(), view)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Mode:    %s\nDocking: %s\nTheme:   %s\nScale:   %g\n",
		view.Mode, view.Layout.Docking, view.Layout.Theme, view.Layout.Scale)
	return nil
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved mode and layout",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, a *app.App) error {
			return printPrefs(cmd, a)
		})
	},
}

var prefsModeCmd = &cobra.Command{
	Use:   "mode <chat|dev|image|training>",
	Short: "Set the active mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Prefs.SetMode(ctx, console.Mode(args[0])); err != nil {
				return err
			}
			return printPrefs(cmd, a)
		})
	},
}

var prefsLayoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Change docking, theme or scale",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			layout := a.Prefs.Layout()
			if prefDocking != "" {
				layout.Docking = prefs.Docking(prefDocking)
			}
			if prefTheme != "" {
				layout.Theme = prefs.Theme(prefTheme)
			}
			if prefScale > 0 {
				layout.Scale = prefScale
			}
			if err := a.Prefs.SaveLayout(ctx, layout); err != nil {
				return err
			}
			return printPrefs(cmd, a)
		})
	},
}
