package engine

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/credmux/credmux/internal/session"
)

// chainedStrategy assumes a role using another session's credentials as the
// trust anchor, recursing into the parent's own generation strategy first.
type chainedStrategy struct {
	f *Factory
}

func (s *chainedStrategy) Generate(ctx context.Context, sess *session.Session) (*session.CredentialMaterial, error) {
	parent, err := s.f.resolveParent(sess)
	if err != nil {
		return nil, err
	}

	parentGen, err := s.f.GeneratorFor(parent)
	if err != nil {
		return nil, err
	}
	parentMaterial, err := parentGen.Generate(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("parent session %s: %w", parent.ID, err)
	}

	roleSessionName := sess.Chained.RoleSessionName
	if roleSessionName == "" {
		roleSessionName = session.DefaultRoleSessionName
	}

	svc, err := s.f.STS(ctx, sess.Region, parentMaterial)
	if err != nil {
		return nil, err
	}
	out, err := svc.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(sess.Chained.RoleARN),
		RoleSessionName: aws.String(roleSessionName),
		DurationSeconds: aws.Int32(s.f.duration()),
	})
	if err != nil {
		return nil, fmt.Errorf("assume role %s: %s, %w", sess.Chained.RoleARN, err, session.ErrSTSFailure)
	}

	return &session.CredentialMaterial{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Region:          sess.Region,
		ExpiresAt:       aws.ToTime(out.Credentials.Expiration),
	}, nil
}
