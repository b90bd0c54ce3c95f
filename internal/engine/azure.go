package engine

import (
	"context"

	"github.com/credmux/credmux/internal/session"
)

// azureStrategy selects the subscription and region defaults through the
// Azure CLI. It returns no material: az manages its own active-account state
// and nothing is written to the shared credentials file.
type azureStrategy struct {
	f *Factory
}

func (s *azureStrategy) Generate(ctx context.Context, sess *session.Session) (*session.CredentialMaterial, error) {
	if err := s.f.Azure.SetSubscription(ctx, sess.Azure.SubscriptionID); err != nil {
		return nil, err
	}
	if sess.Region != "" {
		if err := s.f.Azure.SetDefaultLocation(ctx, sess.Region); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
