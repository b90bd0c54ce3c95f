package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/credmux/credmux/internal/secrets"
	"github.com/credmux/credmux/internal/session"
	"github.com/spf13/cobra"
)

var (
	sessionName    string
	sessionRegion  string
	sessionProfile string

	iamAccessKey   string
	iamSecretKey   string
	iamMfaDevice   string
	fedIdpURL      string
	fedIdpArn      string
	fedRoleArn     string
	chainedRole    string
	chainedSessNm  string
	chainedParent  string
	ssoRoleArn     string
	ssoEmail       string
	ssoIntegration string
	azSubscription string
	azTenant       string

	sessionCmd = &cobra.Command{
		Use:   "session",
		Short: "Manage cloud-identity sessions",
	}
)

func init() {
	addCmds := map[*cobra.Command]func(){
		sessionAddIamUserCmd: func() {
			sessionAddIamUserCmd.Flags().StringVarP(&iamAccessKey, "access-key", "", "", "long-lived access key id")
			sessionAddIamUserCmd.MarkFlagRequired("access-key")
			sessionAddIamUserCmd.Flags().StringVarP(&iamSecretKey, "secret-key", "", "", "long-lived secret access key")
			sessionAddIamUserCmd.MarkFlagRequired("secret-key")
			sessionAddIamUserCmd.Flags().StringVarP(&iamMfaDevice, "mfa-device", "", "", "MFA device serial/arn, prompts for a code on start")
		},
		sessionAddFederatedCmd: func() {
			sessionAddFederatedCmd.Flags().StringVarP(&fedIdpURL, "idp-url", "", "", "SAML IdP sign-in URL")
			sessionAddFederatedCmd.MarkFlagRequired("idp-url")
			sessionAddFederatedCmd.Flags().StringVarP(&fedIdpArn, "idp-arn", "", "", "Principal arn of the SAML IdP in AWS")
			sessionAddFederatedCmd.MarkFlagRequired("idp-arn")
			sessionAddFederatedCmd.Flags().StringVarP(&fedRoleArn, "role-arn", "", "", "role to assume with the SAML assertion")
			sessionAddFederatedCmd.MarkFlagRequired("role-arn")
		},
		sessionAddChainedCmd: func() {
			sessionAddChainedCmd.Flags().StringVarP(&chainedRole, "role-arn", "", "", "role to assume with the parent's credentials")
			sessionAddChainedCmd.MarkFlagRequired("role-arn")
			sessionAddChainedCmd.Flags().StringVarP(&chainedSessNm, "role-session-name", "", "", "role session name (default assumed-from-leapp)")
			sessionAddChainedCmd.Flags().StringVarP(&chainedParent, "parent", "", "", "parent session id supplying the trust anchor")
			sessionAddChainedCmd.MarkFlagRequired("parent")
		},
		sessionAddSsoRoleCmd: func() {
			sessionAddSsoRoleCmd.Flags().StringVarP(&ssoRoleArn, "role-arn", "", "", "SSO role arn")
			sessionAddSsoRoleCmd.MarkFlagRequired("role-arn")
			sessionAddSsoRoleCmd.Flags().StringVarP(&ssoEmail, "email", "", "", "account email")
			sessionAddSsoRoleCmd.Flags().StringVarP(&ssoIntegration, "integration", "", "", "owning SSO integration id")
			sessionAddSsoRoleCmd.MarkFlagRequired("integration")
		},
		sessionAddAzureCmd: func() {
			sessionAddAzureCmd.Flags().StringVarP(&azSubscription, "subscription-id", "", "", "Azure subscription id")
			sessionAddAzureCmd.MarkFlagRequired("subscription-id")
			sessionAddAzureCmd.Flags().StringVarP(&azTenant, "tenant-id", "", "", "Azure tenant id")
			sessionAddAzureCmd.MarkFlagRequired("tenant-id")
		},
	}
	for c, setup := range addCmds {
		c.Flags().StringVarP(&sessionName, "name", "n", "", "session label")
		c.MarkFlagRequired("name")
		c.Flags().StringVarP(&sessionRegion, "region", "r", "", "region")
		if c != sessionAddAzureCmd {
			c.Flags().StringVarP(&sessionProfile, "profile", "p", session.DefaultProfileName, "named profile to write credentials under")
		}
		setup()
		sessionCmd.AddCommand(c)
	}
	sessionCmd.AddCommand(sessionListCmd, sessionStartCmd, sessionStopCmd, sessionRotateCmd, sessionDeleteCmd)
	RootCmd.AddCommand(sessionCmd)
}

// resolveProfile maps the profile name flag to its id, creating the profile
// on first use.
func resolveProfile(a *app, name string) (string, error) {
	prof, err := a.store.ProfileByName(name)
	if err == nil {
		return prof.ID, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return "", err
	}
	prof, err = a.store.AddProfile(name)
	if err != nil {
		return "", err
	}
	return prof.ID, nil
}

// resolveRegion falls back to the workspace default region when the flag is
// not given.
func resolveRegion(a *app) string {
	if sessionRegion != "" {
		return sessionRegion
	}
	d, err := a.store.Defaults()
	if err != nil {
		return ""
	}
	return d.Region
}

var sessionAddIamUserCmd = &cobra.Command{
	Use:   "add-iam-user",
	Short: "Create an IAM user session, storing its keys in the OS keyring",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		profileID, err := resolveProfile(a, sessionProfile)
		if err != nil {
			return err
		}
		sess := session.NewIAMUser(sessionName, resolveRegion(a), profileID, iamMfaDevice)
		if err := a.secrets.Set(secrets.IAMUserAccessKeyID(sess.ID), iamAccessKey); err != nil {
			return err
		}
		if err := a.secrets.Set(secrets.IAMUserSecretAccessKey(sess.ID), iamSecretKey); err != nil {
			return err
		}
		if err := a.store.AddSession(sess); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
		return nil
	},
}

var sessionAddFederatedCmd = &cobra.Command{
	Use:   "add-federated",
	Short: "Create an IAM role session federated through a SAML IdP",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		profileID, err := resolveProfile(a, sessionProfile)
		if err != nil {
			return err
		}
		// reuse an already registered IdP URL record when the URL matches
		var idpID string
		urls, err := a.store.IdpURLs()
		if err != nil {
			return err
		}
		for _, u := range urls {
			if u.URL == fedIdpURL {
				idpID = u.ID
				break
			}
		}
		if idpID == "" {
			idp, err := a.store.AddIdpURL(fedIdpURL)
			if err != nil {
				return err
			}
			idpID = idp.ID
		}
		sess := session.NewFederated(sessionName, resolveRegion(a), profileID, idpID, fedIdpArn, fedRoleArn)
		if err := a.store.AddSession(sess); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
		return nil
	},
}

var sessionAddChainedCmd = &cobra.Command{
	Use:   "add-chained",
	Short: "Create a role session chained off another session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		profileID, err := resolveProfile(a, sessionProfile)
		if err != nil {
			return err
		}
		sess := session.NewChained(sessionName, resolveRegion(a), profileID, chainedRole, chainedSessNm, chainedParent)
		if err := a.store.AddSession(sess); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
		return nil
	},
}

var sessionAddSsoRoleCmd = &cobra.Command{
	Use:   "add-sso-role",
	Short: "Create a session for an AWS SSO role",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		profileID, err := resolveProfile(a, sessionProfile)
		if err != nil {
			return err
		}
		if _, err := a.store.Integration(ssoIntegration); err != nil {
			return err
		}
		sess := session.NewSSORole(sessionName, resolveRegion(a), profileID, ssoRoleArn, ssoEmail, ssoIntegration)
		if err := a.store.AddSession(sess); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
		return nil
	},
}

var sessionAddAzureCmd = &cobra.Command{
	Use:   "add-azure",
	Short: "Create an Azure subscription session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		sess := session.NewAzure(sessionName, resolveRegion(a), azSubscription, azTenant)
		if err := a.store.AddSession(sess); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		sessions, err := a.store.Sessions()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tREGION\tAPPLIED")
		for _, sess := range sessions {
			applied := "-"
			if sess.Status == session.StatusActive && sess.ProfileID != "" {
				if prof, err := a.store.Profile(sess.ProfileID); err == nil {
					if ok, err := a.codec.Has(prof.Name); err == nil && ok {
						applied = prof.Name
					}
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", sess.ID, sess.Name, sess.Type, sess.Status, sess.Region, applied)
		}
		return w.Flush()
	},
}

func lifecycleCmd(use, short string, run func(a *app, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s <session-id>", use),
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			return run(a, args[0])
		},
	}
}

var sessionStartCmd = lifecycleCmd("start", "Activate a session, writing its credentials block", func(a *app, id string) error {
	return a.engine.Start(signalContext(), id)
})

var sessionStopCmd = lifecycleCmd("stop", "Deactivate a session, removing its credentials block", func(a *app, id string) error {
	return a.engine.Stop(signalContext(), id)
})

var sessionRotateCmd = lifecycleCmd("rotate", "Refresh credentials of an active session", func(a *app, id string) error {
	return a.engine.Rotate(signalContext(), id)
})

var sessionDeleteCmd = lifecycleCmd("delete", "Delete a session and its chained descendants", func(a *app, id string) error {
	return a.engine.Delete(signalContext(), id)
})
