package engine

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/credmux/credmux/internal/session"
)

// federatedStrategy signs in against a SAML IdP and trades the captured
// assertion for role credentials.
type federatedStrategy struct {
	f *Factory
}

func (s *federatedStrategy) Generate(ctx context.Context, sess *session.Session) (*session.CredentialMaterial, error) {
	idp, err := s.f.Store.IdpURL(sess.Federated.IdpURLID)
	if err != nil {
		return nil, err
	}

	assertion, err := s.f.SAML.SAMLAssertion(ctx, idp.URL, s.f.acsURL())
	if err != nil {
		return nil, fmt.Errorf("saml sign-in: %s, %w", err, session.ErrSAMLFailure)
	}

	svc, err := s.f.STS(ctx, sess.Region, nil)
	if err != nil {
		return nil, err
	}
	out, err := svc.AssumeRoleWithSAML(ctx, &sts.AssumeRoleWithSAMLInput{
		PrincipalArn:    aws.String(sess.Federated.IdpARN),
		RoleArn:         aws.String(sess.Federated.RoleARN),
		SAMLAssertion:   aws.String(assertion),
		DurationSeconds: aws.Int32(s.f.duration()),
	})
	if err != nil {
		return nil, fmt.Errorf("assume role with saml: %s, %w", err, session.ErrSTSFailure)
	}

	return &session.CredentialMaterial{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Region:          sess.Region,
		ExpiresAt:       aws.ToTime(out.Credentials.Expiration),
	}, nil
}
