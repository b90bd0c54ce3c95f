package ssologin_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	"github.com/aws/smithy-go"
	"github.com/credmux/credmux/internal/session"
	"github.com/credmux/credmux/internal/ssologin"
)

type mockOIDCApi struct {
	registerCount int32
	createToken   func(calls int32) (*ssooidc.CreateTokenOutput, error)
	createCalls   int32
}

func (m *mockOIDCApi) RegisterClient(ctx context.Context, params *ssooidc.RegisterClientInput, optFns ...func(*ssooidc.Options)) (*ssooidc.RegisterClientOutput, error) {
	atomic.AddInt32(&m.registerCount, 1)
	return &ssooidc.RegisterClientOutput{
		ClientId:     aws.String("client-id"),
		ClientSecret: aws.String("client-secret"),
	}, nil
}

func (m *mockOIDCApi) StartDeviceAuthorization(ctx context.Context, params *ssooidc.StartDeviceAuthorizationInput, optFns ...func(*ssooidc.Options)) (*ssooidc.StartDeviceAuthorizationOutput, error) {
	return &ssooidc.StartDeviceAuthorizationOutput{
		DeviceCode:              aws.String("device-code"),
		UserCode:                aws.String("ABCD-EFGH"),
		VerificationUriComplete: aws.String("https://device.sso.example.com/?user_code=ABCD-EFGH"),
		Interval:                0,
	}, nil
}

func (m *mockOIDCApi) CreateToken(ctx context.Context, params *ssooidc.CreateTokenInput, optFns ...func(*ssooidc.Options)) (*ssooidc.CreateTokenOutput, error) {
	calls := atomic.AddInt32(&m.createCalls, 1)
	return m.createToken(calls)
}

type mockBrowser struct {
	opened   int32
	inAppErr error
	closed   chan struct{}
}

func (m *mockBrowser) OpenExternal(uri string) error {
	atomic.AddInt32(&m.opened, 1)
	return nil
}

func (m *mockBrowser) OpenInApp(ctx context.Context, uri string) (<-chan struct{}, error) {
	atomic.AddInt32(&m.opened, 1)
	if m.inAppErr != nil {
		return nil, m.inAppErr
	}
	return m.closed, nil
}

type apiError struct{ code string }

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func grantedToken() (*ssooidc.CreateTokenOutput, error) {
	return &ssooidc.CreateTokenOutput{
		AccessToken: aws.String("bearer-token"),
		ExpiresIn:   28800,
	}, nil
}

func testIntegration() session.SsoIntegration {
	return session.SsoIntegration{
		ID:             "integ-1",
		Alias:          "main",
		Region:         "us-east-1",
		PortalURL:      "https://acme.awsapps.com/start",
		BrowserOpening: session.BrowserOpeningInBrowser,
	}
}

func newCoordinator(api *mockOIDCApi, browser *mockBrowser, cfg ssologin.Config) *ssologin.Coordinator {
	factory := func(ctx context.Context, region string) (ssologin.OIDCApi, error) {
		return api, nil
	}
	return ssologin.New(cfg, factory, browser)
}

func Test_Login_polls_until_token_granted(t *testing.T) {
	api := &mockOIDCApi{createToken: func(calls int32) (*ssooidc.CreateTokenOutput, error) {
		if calls < 3 {
			return nil, &apiError{code: "AuthorizationPendingException"}
		}
		return grantedToken()
	}}
	browser := &mockBrowser{}
	coord := newCoordinator(api, browser, ssologin.Config{PollInterval: time.Millisecond})

	token, err := coord.Login(context.Background(), testIntegration())
	if err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if token.AccessToken != "bearer-token" {
		t.Errorf("got %s, wanted bearer-token", token.AccessToken)
	}
	if token.ExpiresAt.Before(time.Now().Add(7 * time.Hour)) {
		t.Errorf("got %v, wanted expiry roughly 8h out", token.ExpiresAt)
	}
	if browser.opened != 1 {
		t.Errorf("got %d browser opens, wanted 1", browser.opened)
	}
}

func Test_Login_concurrent_callers_share_one_flow(t *testing.T) {
	release := make(chan struct{})
	api := &mockOIDCApi{createToken: func(calls int32) (*ssooidc.CreateTokenOutput, error) {
		select {
		case <-release:
			return grantedToken()
		default:
			return nil, &apiError{code: "AuthorizationPendingException"}
		}
	}}
	coord := newCoordinator(api, &mockBrowser{}, ssologin.Config{PollInterval: time.Millisecond})

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]*ssologin.Token, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = coord.Login(context.Background(), testIntegration())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: got %s, wanted <nil>", i, errs[i])
		}
		if tokens[i].AccessToken != "bearer-token" {
			t.Errorf("caller %d: got %s, wanted shared token", i, tokens[i].AccessToken)
		}
	}
	if got := atomic.LoadInt32(&api.registerCount); got != 1 {
		t.Errorf("got %d RegisterClient calls, wanted 1", got)
	}
}

func Test_Login_slow_down_raises_interval(t *testing.T) {
	var gaps []time.Time
	api := &mockOIDCApi{createToken: func(calls int32) (*ssooidc.CreateTokenOutput, error) {
		gaps = append(gaps, time.Now())
		switch calls {
		case 1:
			return nil, &apiError{code: "SlowDownException"}
		default:
			return grantedToken()
		}
	}}
	coord := newCoordinator(api, &mockBrowser{}, ssologin.Config{PollInterval: time.Millisecond})

	if _, err := coord.Login(context.Background(), testIntegration()); err != nil {
		t.Fatalf("got %s, wanted <nil>", err)
	}
	if len(gaps) != 2 {
		t.Fatalf("got %d polls, wanted 2", len(gaps))
	}
	if gap := gaps[1].Sub(gaps[0]); gap < 5*time.Second {
		t.Errorf("got %s between polls, wanted at least the slow-down backoff", gap)
	}
}

func Test_Login_expired_device_code(t *testing.T) {
	api := &mockOIDCApi{createToken: func(calls int32) (*ssooidc.CreateTokenOutput, error) {
		return nil, &apiError{code: "ExpiredTokenException"}
	}}
	coord := newCoordinator(api, &mockBrowser{}, ssologin.Config{PollInterval: time.Millisecond})

	_, err := coord.Login(context.Background(), testIntegration())
	if !errors.Is(err, session.ErrLoginTimeout) {
		t.Errorf("got %v, wanted ErrLoginTimeout", err)
	}
}

func Test_Login_out_of_band_timeout(t *testing.T) {
	api := &mockOIDCApi{createToken: func(calls int32) (*ssooidc.CreateTokenOutput, error) {
		return nil, &apiError{code: "AuthorizationPendingException"}
	}}
	coord := newCoordinator(api, &mockBrowser{}, ssologin.Config{
		PollInterval: 50 * time.Millisecond,
		LoginTimeout: 10 * time.Millisecond,
	})

	_, err := coord.Login(context.Background(), testIntegration())
	if !errors.Is(err, session.ErrLoginTimeout) {
		t.Errorf("got %v, wanted ErrLoginTimeout", err)
	}
}

func Test_Login_leader_cancellation_stops_the_flow(t *testing.T) {
	api := &mockOIDCApi{createToken: func(calls int32) (*ssooidc.CreateTokenOutput, error) {
		return nil, &apiError{code: "AuthorizationPendingException"}
	}}
	coord := newCoordinator(api, &mockBrowser{}, ssologin.Config{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := coord.Login(ctx, testIntegration())
		done <- err
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, session.ErrLoginInterrupted) {
			t.Errorf("got %v, wanted ErrLoginInterrupted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("leader kept polling after its context was cancelled")
	}
}

func Test_Interrupt_rejects_all_waiters_and_frees_the_slot(t *testing.T) {
	api := &mockOIDCApi{createToken: func(calls int32) (*ssooidc.CreateTokenOutput, error) {
		return nil, &apiError{code: "AuthorizationPendingException"}
	}}
	coord := newCoordinator(api, &mockBrowser{}, ssologin.Config{PollInterval: 10 * time.Millisecond})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Login(context.Background(), testIntegration())
		}(i)
	}
	time.Sleep(30 * time.Millisecond)
	coord.Interrupt()
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, session.ErrLoginInterrupted) {
			t.Errorf("caller %d: got %v, wanted ErrLoginInterrupted", i, err)
		}
	}

	// the slot must be free: a fresh attempt leads a brand new flow
	granted := &mockOIDCApi{createToken: func(calls int32) (*ssooidc.CreateTokenOutput, error) {
		return grantedToken()
	}}
	fresh := newCoordinator(granted, &mockBrowser{}, ssologin.Config{PollInterval: time.Millisecond})
	if _, err := fresh.Login(context.Background(), testIntegration()); err != nil {
		t.Errorf("got %s, wanted <nil>", err)
	}
}

func Test_Login_in_app_window_closed(t *testing.T) {
	closed := make(chan struct{})
	close(closed)
	browser := &mockBrowser{closed: closed}
	api := &mockOIDCApi{createToken: func(calls int32) (*ssooidc.CreateTokenOutput, error) {
		return nil, &apiError{code: "AuthorizationPendingException"}
	}}
	coord := newCoordinator(api, browser, ssologin.Config{PollInterval: time.Minute})

	var notified int32
	coord.OnWindowClosed(func() { atomic.AddInt32(&notified, 1) })

	integ := testIntegration()
	integ.BrowserOpening = session.BrowserOpeningInApp
	_, err := coord.Login(context.Background(), integ)
	if !errors.Is(err, session.ErrLoginInterrupted) {
		t.Errorf("got %v, wanted ErrLoginInterrupted", err)
	}
	if atomic.LoadInt32(&notified) != 1 {
		t.Errorf("got %d window-closed notifications, wanted 1", notified)
	}
}
