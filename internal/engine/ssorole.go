package engine

import (
	"context"
	"time"

	"github.com/credmux/credmux/internal/secrets"
	"github.com/credmux/credmux/internal/session"
	"github.com/credmux/credmux/internal/ssoportal"
)

// ssoRoleStrategy exchanges the integration's bearer token for role
// credentials, obtaining a fresh token through the login coordinator when the
// cached one has expired.
type ssoRoleStrategy struct {
	f *Factory
}

func (s *ssoRoleStrategy) Generate(ctx context.Context, sess *session.Session) (*session.CredentialMaterial, error) {
	integ, err := s.f.Store.Integration(sess.SSORole.IntegrationID)
	if err != nil {
		return nil, err
	}

	accessToken, err := s.accessToken(ctx, integ)
	if err != nil {
		return nil, err
	}

	accountID, roleName, err := ssoportal.SplitRoleARN(sess.SSORole.RoleARN)
	if err != nil {
		return nil, err
	}

	api, err := s.f.Portal(ctx, integ.Region)
	if err != nil {
		return nil, err
	}
	return ssoportal.RoleCredentials(ctx, api, accessToken, accountID, roleName, sess.Region)
}

func (s *ssoRoleStrategy) accessToken(ctx context.Context, integ session.SsoIntegration) (string, error) {
	token, ok, err := s.f.Secrets.Get(secrets.SSOIntegrationAccessToken(integ.ID))
	if err != nil {
		return "", err
	}
	if ok && integ.AccessTokenExpiresAt != nil && time.Until(*integ.AccessTokenExpiresAt) > s.f.reloadMargin() {
		return token, nil
	}

	fresh, err := s.f.Coordinator.Login(ctx, integ)
	if err != nil {
		return "", err
	}
	if err := s.f.Secrets.Set(secrets.SSOIntegrationAccessToken(integ.ID), fresh.AccessToken); err != nil {
		return "", err
	}
	expiresAt := fresh.ExpiresAt
	if err := s.f.Store.SetIntegrationTokenExpiry(integ.ID, &expiresAt); err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}
