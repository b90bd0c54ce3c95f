package cmd

import (
	"github.com/credmux/credmux/internal/secrets"
	"github.com/credmux/credmux/internal/session"
	"github.com/credmux/credmux/internal/util"
	"github.com/spf13/cobra"
)

var (
	force    bool
	clearCmd = &cobra.Command{
		Use:   "clear-cache <flags>",
		Short: "Clears stored secrets and, with --force, the browser cache",
		RunE:  clear,
	}
)

func init() {
	clearCmd.PersistentFlags().BoolVarP(&force, "force", "f", false, "Also wipe the browser user-data dir and kill any hanging browser process left over from an improperly closed sign-in")
	RootCmd.AddCommand(clearCmd)
}

func clear(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	sessions, err := a.store.Sessions()
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if sess.Type == session.TypeIAMUser {
			if err := a.secrets.PurgeIAMUser(sess.ID); err != nil {
				return err
			}
		}
	}
	integrations, err := a.store.Integrations()
	if err != nil {
		return err
	}
	for _, integ := range integrations {
		if err := a.secrets.Delete(secrets.SSOIntegrationAccessToken(integ.ID)); err != nil {
			return err
		}
	}

	if force {
		if err := a.web.ClearCache(); err != nil {
			return err
		}
		util.Writeln("Browser cache cleared")
	}
	return nil
}
