package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	defaultsRegion      string
	defaultsRotationAge int
	defaultsDuration    int

	defaultsCmd = &cobra.Command{
		Use:   "defaults",
		Short: "Workspace-wide defaults for new sessions and the rotation daemon",
	}
)

func init() {
	defaultsSetCmd.Flags().StringVarP(&defaultsRegion, "region", "r", "", "region used when session add gives none")
	defaultsSetCmd.Flags().IntVarP(&defaultsRotationAge, "rotation-age", "", 0, "seconds a session may stay on one set of credentials")
	defaultsSetCmd.Flags().IntVarP(&defaultsDuration, "session-duration", "", 0, "seconds requested for generated credentials")
	defaultsCmd.AddCommand(defaultsShowCmd, defaultsSetCmd)
	RootCmd.AddCommand(defaultsCmd)
}

var defaultsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		d, err := a.store.Defaults()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "region: %s\nrotation-age: %ds\nsession-duration: %ds\n",
			d.Region, d.RotationAgeSeconds, d.SessionDurationSecs)
		return nil
	},
}

var defaultsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the stored defaults; unset flags keep their current value",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		d, err := a.store.Defaults()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("region") {
			d.Region = defaultsRegion
		}
		if cmd.Flags().Changed("rotation-age") {
			d.RotationAgeSeconds = defaultsRotationAge
		}
		if cmd.Flags().Changed("session-duration") {
			d.SessionDurationSecs = defaultsDuration
		}
		return a.store.SetDefaults(d)
	},
}
