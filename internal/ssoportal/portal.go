// Package ssoportal wraps the AWS SSO portal operations: paginated account
// and role listings, role-credential retrieval, and logout.
package ssoportal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sso"
	"github.com/aws/aws-sdk-go-v2/service/sso/types"
	"github.com/credmux/credmux/internal/session"
)

// API is the subset of the SSO portal client this package calls.
type API interface {
	ListAccounts(ctx context.Context, params *sso.ListAccountsInput, optFns ...func(*sso.Options)) (*sso.ListAccountsOutput, error)
	ListAccountRoles(ctx context.Context, params *sso.ListAccountRolesInput, optFns ...func(*sso.Options)) (*sso.ListAccountRolesOutput, error)
	GetRoleCredentials(ctx context.Context, params *sso.GetRoleCredentialsInput, optFns ...func(*sso.Options)) (*sso.GetRoleCredentialsOutput, error)
	Logout(ctx context.Context, params *sso.LogoutInput, optFns ...func(*sso.Options)) (*sso.LogoutOutput, error)
}

// ClientFactory builds a portal client for the integration's region.
type ClientFactory func(ctx context.Context, region string) (API, error)

func DefaultClientFactory(ctx context.Context, region string) (API, error) {
	cfg, err := sdkconfig.LoadDefaultConfig(ctx, sdkconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return sso.NewFromConfig(cfg), nil
}

// Accounts lists every account visible to the token, following page tokens.
func Accounts(ctx context.Context, api API, accessToken string) ([]types.AccountInfo, error) {
	var out []types.AccountInfo
	var next *string
	for {
		page, err := api.ListAccounts(ctx, &sso.ListAccountsInput{
			AccessToken: aws.String(accessToken),
			NextToken:   next,
		})
		if err != nil {
			return nil, fmt.Errorf("list accounts: %s, %w", err, session.ErrSTSFailure)
		}
		out = append(out, page.AccountList...)
		if page.NextToken == nil || *page.NextToken == "" {
			return out, nil
		}
		next = page.NextToken
	}
}

// AccountRoles lists every role of one account, following page tokens.
func AccountRoles(ctx context.Context, api API, accessToken, accountID string) ([]types.RoleInfo, error) {
	var out []types.RoleInfo
	var next *string
	for {
		page, err := api.ListAccountRoles(ctx, &sso.ListAccountRolesInput{
			AccessToken: aws.String(accessToken),
			AccountId:   aws.String(accountID),
			NextToken:   next,
		})
		if err != nil {
			return nil, fmt.Errorf("list account roles: %s, %w", err, session.ErrSTSFailure)
		}
		out = append(out, page.RoleList...)
		if page.NextToken == nil || *page.NextToken == "" {
			return out, nil
		}
		next = page.NextToken
	}
}

// RoleCredentials exchanges the bearer token for short-lived credentials of
// one account/role.
func RoleCredentials(ctx context.Context, api API, accessToken, accountID, roleName, region string) (*session.CredentialMaterial, error) {
	out, err := api.GetRoleCredentials(ctx, &sso.GetRoleCredentialsInput{
		AccessToken: aws.String(accessToken),
		AccountId:   aws.String(accountID),
		RoleName:    aws.String(roleName),
	})
	if err != nil {
		return nil, fmt.Errorf("get role credentials: %s, %w", err, session.ErrSTSFailure)
	}
	creds := out.RoleCredentials
	return &session.CredentialMaterial{
		AccessKeyID:     aws.ToString(creds.AccessKeyId),
		SecretAccessKey: aws.ToString(creds.SecretAccessKey),
		SessionToken:    aws.ToString(creds.SessionToken),
		Region:          region,
		ExpiresAt:       time.UnixMilli(creds.Expiration),
	}, nil
}

func Logout(ctx context.Context, api API, accessToken string) error {
	if _, err := api.Logout(ctx, &sso.LogoutInput{AccessToken: aws.String(accessToken)}); err != nil {
		return fmt.Errorf("portal logout: %s, %w", err, session.ErrSTSFailure)
	}
	return nil
}

// SplitRoleARN splits an SSO role ARN (arn:aws:iam::<account>:role/<name>)
// into account id and role name.
func SplitRoleARN(roleARN string) (accountID, roleName string, err error) {
	parts := strings.Split(roleARN, ":")
	if len(parts) != 6 || !strings.HasPrefix(parts[5], "role/") {
		return "", "", fmt.Errorf("role arn %q: %w", roleARN, session.ErrParse)
	}
	return parts[4], strings.TrimPrefix(parts[5], "role/"), nil
}
