package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/credmux/credmux/internal/secrets"
	"github.com/credmux/credmux/internal/session"
	"github.com/credmux/credmux/internal/ssoportal"
	"github.com/credmux/credmux/internal/util"
	"github.com/spf13/cobra"
)

var (
	integrationAlias     string
	integrationPortalURL string
	integrationRegion    string
	integrationBrowser   string

	integrationCmd = &cobra.Command{
		Use:   "integration",
		Short: "Manage AWS SSO integrations",
	}
)

func init() {
	integrationAddCmd.Flags().StringVarP(&integrationAlias, "alias", "a", "", "integration alias")
	integrationAddCmd.MarkFlagRequired("alias")
	integrationAddCmd.Flags().StringVarP(&integrationPortalURL, "portal-url", "u", "", "SSO portal start URL")
	integrationAddCmd.MarkFlagRequired("portal-url")
	integrationAddCmd.Flags().StringVarP(&integrationRegion, "region", "r", "", "SSO region")
	integrationAddCmd.MarkFlagRequired("region")
	integrationAddCmd.Flags().StringVarP(&integrationBrowser, "browser", "b", string(session.BrowserOpeningInBrowser), "verification surface: in-app or in-browser")

	integrationCmd.AddCommand(integrationAddCmd, integrationListCmd, integrationLoginCmd, integrationSyncCmd, integrationLogoutCmd, integrationRemoveCmd)
	RootCmd.AddCommand(integrationCmd)
}

var integrationAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an SSO portal",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		integ := session.SsoIntegration{
			ID:             session.NewID(),
			Alias:          integrationAlias,
			Region:         integrationRegion,
			PortalURL:      integrationPortalURL,
			BrowserOpening: session.BrowserOpening(integrationBrowser),
		}
		if err := a.store.AddIntegration(integ); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), integ.ID)
		return nil
	},
}

var integrationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List SSO integrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		integrations, err := a.store.Integrations()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tALIAS\tPORTAL\tREGION\tTOKEN EXPIRES")
		for _, integ := range integrations {
			expiry := "-"
			if integ.AccessTokenExpiresAt != nil {
				expiry = integ.AccessTokenExpiresAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", integ.ID, integ.Alias, integ.PortalURL, integ.Region, expiry)
		}
		return w.Flush()
	},
}

var integrationLoginCmd = &cobra.Command{
	Use:   "login <integration-id>",
	Short: "Run the device-authorization flow and cache the bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		integ, err := a.store.Integration(args[0])
		if err != nil {
			return err
		}
		token, err := a.coordinator.Login(signalContext(), integ)
		if err != nil {
			return err
		}
		if err := a.secrets.Set(secrets.SSOIntegrationAccessToken(integ.ID), token.AccessToken); err != nil {
			return err
		}
		expiresAt := token.ExpiresAt
		if err := a.store.SetIntegrationTokenExpiry(integ.ID, &expiresAt); err != nil {
			return err
		}
		util.Writeln("Logged in, token valid until %s", token.ExpiresAt.Format("2006-01-02 15:04"))
		return nil
	},
}

var integrationSyncCmd = &cobra.Command{
	Use:   "sync <integration-id>",
	Short: "Provision a session per account/role visible to the integration",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		integ, err := a.store.Integration(args[0])
		if err != nil {
			return err
		}
		token, ok, err := a.secrets.Get(secrets.SSOIntegrationAccessToken(integ.ID))
		if err != nil {
			return err
		}
		if ok && (integ.AccessTokenExpiresAt == nil || !integ.AccessTokenExpiresAt.After(time.Now())) {
			ok = false
		}
		ctx := signalContext()
		if !ok {
			fresh, err := a.coordinator.Login(ctx, integ)
			if err != nil {
				return err
			}
			if err := a.secrets.Set(secrets.SSOIntegrationAccessToken(integ.ID), fresh.AccessToken); err != nil {
				return err
			}
			expiresAt := fresh.ExpiresAt
			if err := a.store.SetIntegrationTokenExpiry(integ.ID, &expiresAt); err != nil {
				return err
			}
			token = fresh.AccessToken
		}
		api, err := ssoportal.DefaultClientFactory(ctx, integ.Region)
		if err != nil {
			return err
		}
		created, err := ssoportal.Sync(ctx, api, a.store, integ, token)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %d sessions\n", created)
		return nil
	},
	Args: cobra.ExactArgs(1),
}

var integrationLogoutCmd = &cobra.Command{
	Use:   "logout <integration-id>",
	Short: "Stop the integration's sessions, invalidate and drop its token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		integ, err := a.store.Integration(args[0])
		if err != nil {
			return err
		}
		ctx := signalContext()

		sessions, err := a.store.Sessions()
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			if sess.Type == session.TypeSSORole && sess.SSORole.IntegrationID == integ.ID && sess.Status == session.StatusActive {
				if err := a.engine.Stop(ctx, sess.ID); err != nil {
					return err
				}
			}
		}

		token, ok, err := a.secrets.Get(secrets.SSOIntegrationAccessToken(integ.ID))
		if err != nil {
			return err
		}
		if ok {
			api, err := ssoportal.DefaultClientFactory(ctx, integ.Region)
			if err != nil {
				return err
			}
			if err := ssoportal.Logout(ctx, api, token); err != nil {
				util.Traceln("portal logout: %v", err)
			}
			if err := a.secrets.Delete(secrets.SSOIntegrationAccessToken(integ.ID)); err != nil {
				return err
			}
		}
		return a.store.SetIntegrationTokenExpiry(integ.ID, nil)
	},
}

var integrationRemoveCmd = &cobra.Command{
	Use:   "remove <integration-id>",
	Short: "Delete an integration and its cached token; its sessions stay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		integ, err := a.store.Integration(args[0])
		if err != nil {
			return err
		}
		if err := a.secrets.Delete(secrets.SSOIntegrationAccessToken(integ.ID)); err != nil {
			return err
		}
		return a.store.RemoveIntegration(integ.ID)
	},
}
