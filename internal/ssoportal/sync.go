package ssoportal

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/credmux/credmux/internal/session"
	"github.com/credmux/credmux/internal/workspace"
)

// Sync provisions one SSO role session per account/role the integration's
// token can see, skipping pairs that already have a session. New sessions are
// attached to the default profile and returned count is the number created.
func Sync(ctx context.Context, api API, store *workspace.Store, integ session.SsoIntegration, accessToken string) (int, error) {
	existing, err := store.Sessions()
	if err != nil {
		return 0, err
	}
	have := map[string]bool{}
	for _, sess := range existing {
		if sess.Type == session.TypeSSORole && sess.SSORole.IntegrationID == integ.ID {
			have[sess.SSORole.RoleARN] = true
		}
	}

	defaultProfile, err := store.ProfileByName(session.DefaultProfileName)
	if err != nil {
		return 0, err
	}

	accounts, err := Accounts(ctx, api, accessToken)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, account := range accounts {
		roles, err := AccountRoles(ctx, api, accessToken, aws.ToString(account.AccountId))
		if err != nil {
			return created, err
		}
		for _, role := range roles {
			roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", aws.ToString(role.AccountId), aws.ToString(role.RoleName))
			if have[roleARN] {
				continue
			}
			sess := session.NewSSORole(
				fmt.Sprintf("%s/%s", aws.ToString(account.AccountName), aws.ToString(role.RoleName)),
				integ.Region,
				defaultProfile.ID,
				roleARN,
				aws.ToString(account.EmailAddress),
				integ.ID,
			)
			if err := store.AddSession(sess); err != nil {
				return created, err
			}
			have[roleARN] = true
			created++
		}
	}
	return created, nil
}
