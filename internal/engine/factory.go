package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/credmux/credmux/internal/secrets"
	"github.com/credmux/credmux/internal/session"
	"github.com/credmux/credmux/internal/ssologin"
	"github.com/credmux/credmux/internal/ssoportal"
	"github.com/credmux/credmux/internal/workspace"
)

const (
	defaultSessionDuration = 1 * time.Hour
	defaultReloadMargin    = 1 * time.Minute
	defaultACSURL          = "https://signin.aws.amazon.com/saml"

	// maxChainDepth bounds the parent walk so a hand-edited workspace
	// document cannot loop credential generation.
	maxChainDepth = 10
)

// STSApi is the subset of the STS client the strategies call.
type STSApi interface {
	GetSessionToken(ctx context.Context, params *sts.GetSessionTokenInput, optFns ...func(*sts.Options)) (*sts.GetSessionTokenOutput, error)
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	AssumeRoleWithSAML(ctx context.Context, params *sts.AssumeRoleWithSAMLInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithSAMLOutput, error)
}

// STSClientFactory builds an STS client for a region; when static is non-nil
// the client signs with that material instead of the ambient credential chain.
type STSClientFactory func(ctx context.Context, region string, static *session.CredentialMaterial) (STSApi, error)

// MFAPrompt asks the user for a one-time code; ok=false means the user
// declined, which is a distinct error rather than a retry.
type MFAPrompt func(mfaDevice string) (code string, ok bool)

// SAMLProvider drives the IdP sign-in and captures the SAML assertion posted
// to the ACS endpoint.
type SAMLProvider interface {
	SAMLAssertion(ctx context.Context, providerURL, acsURL string) (string, error)
}

// LoginCoordinator is the device-authorization single-flight surface.
type LoginCoordinator interface {
	Login(ctx context.Context, integ session.SsoIntegration) (*ssologin.Token, error)
}

// AzureCLI shells out to az; it owns Azure's active-account state.
type AzureCLI interface {
	SetSubscription(ctx context.Context, subscriptionID string) error
	SetDefaultLocation(ctx context.Context, region string) error
	Logout(ctx context.Context) error
}

// CredentialsGenerator produces the material for one session type. A nil
// material with nil error means the type manages its own credential state
// (Azure) and nothing is written to the credentials file.
type CredentialsGenerator interface {
	Generate(ctx context.Context, sess *session.Session) (*session.CredentialMaterial, error)
}

// Factory maps a session's declared type to its concrete generation strategy.
type Factory struct {
	Store       *workspace.Store
	Secrets     *secrets.Store
	STS         STSClientFactory
	Portal      ssoportal.ClientFactory
	Coordinator LoginCoordinator
	SAML        SAMLProvider
	Azure       AzureCLI
	MFAPrompt   MFAPrompt

	// SessionDuration applies to GetSessionToken/AssumeRole* calls.
	SessionDuration time.Duration
	// ReloadMargin treats cached material expiring within it as expired.
	ReloadMargin time.Duration
	ACSURL       string
}

func (f *Factory) duration() int32 {
	d := f.SessionDuration
	if d <= 0 {
		d = defaultSessionDuration
	}
	return int32(d / time.Second)
}

func (f *Factory) reloadMargin() time.Duration {
	if f.ReloadMargin <= 0 {
		return defaultReloadMargin
	}
	return f.ReloadMargin
}

func (f *Factory) acsURL() string {
	if f.ACSURL == "" {
		return defaultACSURL
	}
	return f.ACSURL
}

// GeneratorFor dispatches on the session's type tag; the switch is exhaustive
// over the closed provider set.
func (f *Factory) GeneratorFor(sess *session.Session) (CredentialsGenerator, error) {
	switch sess.Type {
	case session.TypeIAMUser:
		return &iamUserStrategy{f}, nil
	case session.TypeIAMRoleFederated:
		return &federatedStrategy{f}, nil
	case session.TypeIAMRoleChained:
		return &chainedStrategy{f}, nil
	case session.TypeSSORole:
		return &ssoRoleStrategy{f}, nil
	case session.TypeAzure:
		return &azureStrategy{f}, nil
	default:
		return nil, fmt.Errorf("%q: %w", sess.Type, session.ErrUnknownSessionType)
	}
}

// resolveParent returns the direct parent of a chained session after checking
// the transitive chain terminates in a non-chained session within bounds.
func (f *Factory) resolveParent(sess *session.Session) (*session.Session, error) {
	seen := map[string]bool{sess.ID: true}
	next := sess.Chained.ParentSessionID
	var direct *session.Session
	for depth := 0; ; depth++ {
		if depth >= maxChainDepth {
			return nil, fmt.Errorf("parent chain deeper than %d: %w", maxChainDepth, session.ErrChainedCycle)
		}
		parent, err := f.Store.Session(next)
		if err != nil {
			return nil, err
		}
		if seen[parent.ID] {
			return nil, fmt.Errorf("parent chain revisits %s: %w", parent.ID, session.ErrChainedCycle)
		}
		seen[parent.ID] = true
		if direct == nil {
			direct = parent
		}
		if parent.Type != session.TypeIAMRoleChained {
			return direct, nil
		}
		next = parent.Chained.ParentSessionID
	}
}
