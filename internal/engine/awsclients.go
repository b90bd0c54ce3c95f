package engine

import (
	"context"

	sdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/credmux/credmux/internal/session"
)

// DefaultSTSClientFactory builds the real STS client, signing with the given
// static material when present (chained sessions, IAM user long-lived keys)
// or the ambient credential chain otherwise.
func DefaultSTSClientFactory(ctx context.Context, region string, static *session.CredentialMaterial) (STSApi, error) {
	opts := []func(*sdkconfig.LoadOptions) error{
		sdkconfig.WithRegion(region),
	}
	if static != nil {
		opts = append(opts, sdkconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(static.AccessKeyID, static.SecretAccessKey, static.SessionToken),
		))
	}
	cfg, err := sdkconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return sts.NewFromConfig(cfg), nil
}
