package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage named profiles",
}

func init() {
	profileCmd.AddCommand(profileAddCmd, profileListCmd, profileRenameCmd, profileRemoveCmd)
	RootCmd.AddCommand(profileCmd)
}

var profileAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a named profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		prof, err := a.store.AddProfile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), prof.ID)
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List named profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		profiles, err := a.store.Profiles()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME")
		for _, p := range profiles {
			fmt.Fprintf(w, "%s\t%s\n", p.ID, p.Name)
		}
		return w.Flush()
	},
}

var profileRenameCmd = &cobra.Command{
	Use:   "rename <profile-id> <new-name>",
	Short: "Rename a named profile (default is protected)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		return a.store.RenameProfile(args[0], args[1])
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <profile-id>",
	Short: "Remove an unused named profile (default is protected)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		return a.store.RemoveProfile(args[0])
	},
}
