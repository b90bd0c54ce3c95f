package ssologin

import (
	"context"

	sdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
)

// DefaultOIDCClientFactory builds the real SSO OIDC client. The device flow
// authenticates the user from scratch, so the client carries no credentials.
func DefaultOIDCClientFactory(ctx context.Context, region string) (OIDCApi, error) {
	cfg, err := sdkconfig.LoadDefaultConfig(ctx, sdkconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return ssooidc.NewFromConfig(cfg), nil
}
