package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/credmux/credmux/internal/azurecli"
	"github.com/credmux/credmux/internal/credfile"
	"github.com/credmux/credmux/internal/engine"
	"github.com/credmux/credmux/internal/secrets"
	"github.com/credmux/credmux/internal/session"
	"github.com/credmux/credmux/internal/ssologin"
	"github.com/credmux/credmux/internal/ssoportal"
	"github.com/credmux/credmux/internal/util"
	"github.com/credmux/credmux/internal/web"
	"github.com/credmux/credmux/internal/workspace"
	"github.com/spf13/viper"
)

// app wires the store, codec, secret store, coordinator and engine once per
// invocation and passes them explicitly; nothing here is a singleton.
type app struct {
	store       *workspace.Store
	codec       *credfile.Codec
	secrets     *secrets.Store
	coordinator *ssologin.Coordinator
	engine      *engine.Engine
	web         *web.Web
}

func buildApp() (*app, error) {
	store, err := workspace.NewStore(resolvedWorkspacePath())
	if err != nil {
		return nil, err
	}

	credPath := credentialsFile
	if credPath == "" {
		credPath = viper.GetString("credentials_file")
	}
	if credPath == "" {
		credPath = credfile.DefaultPath()
	}
	codec, err := credfile.New(credPath)
	if err != nil {
		return nil, err
	}

	secretStore := secrets.NewStore()
	browser := web.New(web.NewWebConf(browserDataDir()))

	coordinator := ssologin.New(ssologin.Config{
		PollInterval: viper.GetDuration("login_poll_interval"),
		LoginTimeout: viper.GetDuration("login_timeout"),
	}, ssologin.DefaultOIDCClientFactory, browser)

	sessionDuration := viper.GetDuration("session_duration")
	if d, err := store.Defaults(); err == nil && d.SessionDurationSecs > 0 {
		sessionDuration = time.Duration(d.SessionDurationSecs) * time.Second
	}

	factory := &engine.Factory{
		Store:           store,
		Secrets:         secretStore,
		STS:             engine.DefaultSTSClientFactory,
		Portal:          ssoportal.DefaultClientFactory,
		Coordinator:     coordinator,
		SAML:            browser,
		Azure:           azurecli.New(),
		MFAPrompt:       promptMFA,
		SessionDuration: sessionDuration,
	}

	eng := engine.New(store, codec, secretStore, factory)

	a := &app{
		store:       store,
		codec:       codec,
		secrets:     secretStore,
		coordinator: coordinator,
		engine:      eng,
		web:         browser,
	}

	// an abandoned verification window deactivates every SSO session so no
	// profile is left pointing at credentials that can no longer refresh
	coordinator.OnWindowClosed(a.stopAllSSOSessions)
	return a, nil
}

func (a *app) stopAllSSOSessions() {
	sessions, err := a.store.Sessions()
	if err != nil {
		util.Writeln("list sessions: %v", err)
		return
	}
	for _, sess := range sessions {
		if sess.Type == session.TypeSSORole && sess.Status == session.StatusActive {
			if err := a.engine.Stop(context.Background(), sess.ID); err != nil {
				util.Writeln("stop %s: %v", sess.ID, err)
			}
		}
	}
}

// signalContext is canceled on SIGINT/SIGTERM so an in-flight login or STS
// call unwinds instead of being killed mid-write.
func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

func promptMFA(mfaDevice string) (string, bool) {
	fmt.Fprintf(os.Stderr, "MFA code for %s: ", mfaDevice)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", false
	}
	code := strings.TrimSpace(line)
	return code, code != ""
}
