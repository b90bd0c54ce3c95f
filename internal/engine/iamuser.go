package engine

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/credmux/credmux/internal/secrets"
	"github.com/credmux/credmux/internal/session"
)

// iamUserStrategy exchanges long-lived user keys for a session token, caching
// the token in the secret store until it nears expiry.
type iamUserStrategy struct {
	f *Factory
}

func (s *iamUserStrategy) Generate(ctx context.Context, sess *session.Session) (*session.CredentialMaterial, error) {
	cached, ok, err := s.f.Secrets.CachedSessionToken(sess.ID)
	if err != nil {
		return nil, err
	}
	if ok && !cached.ExpiresWithin(s.f.reloadMargin()) {
		return cached, nil
	}

	accessKey, ok, err := s.f.Secrets.Get(secrets.IAMUserAccessKeyID(sess.ID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("access key for session %s: %w", sess.ID, session.ErrNotFound)
	}
	secretKey, ok, err := s.f.Secrets.Get(secrets.IAMUserSecretAccessKey(sess.ID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("secret key for session %s: %w", sess.ID, session.ErrNotFound)
	}

	input := &sts.GetSessionTokenInput{
		DurationSeconds: aws.Int32(s.f.duration()),
	}
	if sess.IAMUser.MFADevice != "" {
		code, ok := s.f.MFAPrompt(sess.IAMUser.MFADevice)
		if !ok || code == "" {
			return nil, fmt.Errorf("mfa code for device %s: %w", sess.IAMUser.MFADevice, session.ErrMissingMFAToken)
		}
		input.SerialNumber = aws.String(sess.IAMUser.MFADevice)
		input.TokenCode = aws.String(code)
	}

	svc, err := s.f.STS(ctx, sess.Region, &session.CredentialMaterial{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
	})
	if err != nil {
		return nil, err
	}
	out, err := svc.GetSessionToken(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get session token: %s, %w", err, session.ErrSTSFailure)
	}

	material := &session.CredentialMaterial{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Region:          sess.Region,
		ExpiresAt:       aws.ToTime(out.Credentials.Expiration),
	}
	if err := s.f.Secrets.SaveSessionToken(sess.ID, material); err != nil {
		return nil, err
	}
	return material, nil
}
