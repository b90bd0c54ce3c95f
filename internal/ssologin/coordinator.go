// Package ssologin drives the OAuth device-authorization flow against the AWS
// SSO OIDC endpoint. Exactly one flow per integration may be in flight; every
// concurrent caller joins the in-flight attempt and observes the same token or
// the same failure.
package ssologin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	"github.com/aws/smithy-go"
	"github.com/credmux/credmux/internal/session"
	"github.com/credmux/credmux/internal/util"
)

const (
	clientName = "credmux"
	clientType = "public"
	grantType  = "urn:ietf:params:oauth:grant-type:device_code"

	defaultPollInterval = 5 * time.Second
	defaultLoginTimeout = 5 * time.Minute
	slowDownBackoff     = 5 * time.Second
)

// OIDCApi is the subset of the SSO OIDC client the coordinator calls.
type OIDCApi interface {
	RegisterClient(ctx context.Context, params *ssooidc.RegisterClientInput, optFns ...func(*ssooidc.Options)) (*ssooidc.RegisterClientOutput, error)
	StartDeviceAuthorization(ctx context.Context, params *ssooidc.StartDeviceAuthorizationInput, optFns ...func(*ssooidc.Options)) (*ssooidc.StartDeviceAuthorizationOutput, error)
	CreateToken(ctx context.Context, params *ssooidc.CreateTokenInput, optFns ...func(*ssooidc.Options)) (*ssooidc.CreateTokenOutput, error)
}

// OIDCClientFactory builds an OIDC client for the integration's region.
type OIDCClientFactory func(ctx context.Context, region string) (OIDCApi, error)

// Browser opens the verification surface. OpenExternal is best-effort; the
// out-of-band flow continues on polling regardless. OpenInApp returns a
// channel that fires if the embedded page closes before the provider's
// login-success URL is seen.
type Browser interface {
	OpenExternal(uri string) error
	OpenInApp(ctx context.Context, uri string) (closed <-chan struct{}, err error)
}

type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

type Config struct {
	// PollInterval between CreateToken attempts; raised to the interval the
	// OIDC endpoint prescribes when that is larger.
	PollInterval time.Duration
	// LoginTimeout bounds the out-of-band browser flow; the in-app flow ends
	// when its window closes instead.
	LoginTimeout time.Duration
}

type flight struct {
	done   chan struct{}
	cancel context.CancelFunc
	token  *Token
	err    error
}

type Coordinator struct {
	cfg     Config
	clients OIDCClientFactory
	browser Browser

	mu        sync.Mutex
	flights   map[string]*flight
	observers []func()
}

func New(cfg Config, clients OIDCClientFactory, browser Browser) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	return &Coordinator{
		cfg:     cfg,
		clients: clients,
		browser: browser,
		flights: map[string]*flight{},
	}
}

// OnWindowClosed registers a callback fired when an in-app verification window
// closes without completing the login.
func (c *Coordinator) OnWindowClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Coordinator) notifyWindowClosed() {
	c.mu.Lock()
	observers := make([]func(), len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

// Login returns a bearer token for the integration. The first caller leads the
// device-authorization flow; later callers block until the leader resolves and
// share its outcome without issuing any network calls.
func (c *Coordinator) Login(ctx context.Context, integ session.SsoIntegration) (*Token, error) {
	c.mu.Lock()
	if f, ok := c.flights[integ.ID]; ok {
		c.mu.Unlock()
		return c.join(ctx, f)
	}
	flightCtx, cancel := context.WithCancel(context.Background())
	f := &flight{done: make(chan struct{}), cancel: cancel}
	c.flights[integ.ID] = f
	c.mu.Unlock()

	// The flight outlives any one caller's context so joiners are not cut off
	// by the leader hanging up, but the leader's own cancellation still has to
	// stop the flow it is driving.
	stopWatch := context.AfterFunc(ctx, cancel)
	token, err := c.lead(flightCtx, integ)
	stopWatch()

	c.mu.Lock()
	delete(c.flights, integ.ID)
	f.token, f.err = token, err
	close(f.done)
	c.mu.Unlock()
	cancel()
	return token, err
}

func (c *Coordinator) join(ctx context.Context, f *flight) (*Token, error) {
	select {
	case <-f.done:
		return f.token, f.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%s, %w", ctx.Err(), session.ErrLoginInterrupted)
	}
}

// Interrupt cancels every in-flight flow; all waiters reject with
// ErrLoginInterrupted and the single-flight slots free immediately.
func (c *Coordinator) Interrupt() {
	c.mu.Lock()
	for _, f := range c.flights {
		f.cancel()
	}
	c.mu.Unlock()
}

func (c *Coordinator) lead(ctx context.Context, integ session.SsoIntegration) (*Token, error) {
	api, err := c.clients(ctx, integ.Region)
	if err != nil {
		return nil, err
	}

	reg, err := api.RegisterClient(ctx, &ssooidc.RegisterClientInput{
		ClientName: aws.String(clientName),
		ClientType: aws.String(clientType),
	})
	if err != nil {
		return nil, c.flowErr("register client", err)
	}

	auth, err := api.StartDeviceAuthorization(ctx, &ssooidc.StartDeviceAuthorizationInput{
		ClientId:     reg.ClientId,
		ClientSecret: reg.ClientSecret,
		StartUrl:     aws.String(integ.PortalURL),
	})
	if err != nil {
		return nil, c.flowErr("start device authorization", err)
	}

	interval := c.cfg.PollInterval
	if prescribed := time.Duration(auth.Interval) * time.Second; prescribed > interval {
		interval = prescribed
	}

	verificationURI := aws.ToString(auth.VerificationUriComplete)
	var closed <-chan struct{}
	var deadline <-chan time.Time
	switch integ.BrowserOpening {
	case session.BrowserOpeningInApp:
		closed, err = c.browser.OpenInApp(ctx, verificationURI)
		if err != nil {
			return nil, err
		}
	default:
		if err := c.browser.OpenExternal(verificationURI); err != nil {
			util.Traceln("open browser: %v (visit %s manually)", err, verificationURI)
		}
		// the hard timeout applies only when confirmation happens out of band
		deadline = time.After(c.cfg.LoginTimeout)
	}

	for {
		out, err := api.CreateToken(ctx, &ssooidc.CreateTokenInput{
			ClientId:     reg.ClientId,
			ClientSecret: reg.ClientSecret,
			DeviceCode:   auth.DeviceCode,
			GrantType:    aws.String(grantType),
		})
		if err == nil {
			return &Token{
				AccessToken: aws.ToString(out.AccessToken),
				ExpiresAt:   time.Now().Add(time.Duration(out.ExpiresIn) * time.Second),
			}, nil
		}

		switch {
		case isAPIErrorCode(err, "AuthorizationPendingException"):
			// keep polling
		case isAPIErrorCode(err, "SlowDownException"):
			interval += slowDownBackoff
		case isAPIErrorCode(err, "ExpiredTokenException"):
			return nil, fmt.Errorf("device code expired: %w", session.ErrLoginTimeout)
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%s, %w", ctx.Err(), session.ErrLoginInterrupted)
		default:
			return nil, c.flowErr("create token", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s, %w", ctx.Err(), session.ErrLoginInterrupted)
		case <-closed:
			c.notifyWindowClosed()
			return nil, fmt.Errorf("verification window closed: %w", session.ErrLoginInterrupted)
		case <-deadline:
			return nil, fmt.Errorf("no confirmation within %s: %w", c.cfg.LoginTimeout, session.ErrLoginTimeout)
		case <-time.After(interval):
		}
	}
}

func (c *Coordinator) flowErr(step string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", step, session.ErrLoginInterrupted)
	}
	return fmt.Errorf("%s: %s, %w", step, err, session.ErrSTSFailure)
}

func isAPIErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
