// Package web owns every browser surface: the SAML IdP sign-in for federated
// sessions and the embedded verification window for the SSO device flow.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	nurl "net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	ps "github.com/mitchellh/go-ps"
)

var ErrTimedOut = errors.New("timed out waiting for browser")

// loginSuccessMarker is the URL fragment the SSO verification page navigates
// to once the user approves the device.
const loginSuccessMarker = "login-success"

type WebConfig struct {
	datadir string
	// headless controls the browser visibility; sign-in flows need a visible
	// window, tests do not.
	headless bool
	timeout  time.Duration
}

func NewWebConf(datadir string) *WebConfig {
	return &WebConfig{
		datadir: datadir,
		timeout: 120 * time.Second,
	}
}

func (wc *WebConfig) WithHeadless() *WebConfig {
	wc.headless = true
	return wc
}

// WithTimeout in seconds
func (wc *WebConfig) WithTimeout(seconds int) *WebConfig {
	wc.timeout = time.Duration(seconds) * time.Second
	return wc
}

type Web struct {
	conf *WebConfig
}

// New returns an initialised instance of Web struct
func New(conf *WebConfig) *Web {
	return &Web{conf: conf}
}

func (web *Web) launch() (*rod.Browser, error) {
	l := launcher.New().
		Headless(web.conf.headless).
		Devtools(false).
		Leakless(true)

	url, err := l.UserDataDir(web.conf.datadir).Launch()
	if err != nil {
		return nil, err
	}
	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	return browser.NoDefaultDevice(), nil
}

// SAMLAssertion drives a sign-in against the IdP and captures the
// SAMLResponse the IdP posts to the ACS endpoint.
func (web *Web) SAMLAssertion(ctx context.Context, providerURL, acsURL string) (string, error) {
	browser, err := web.launch()
	if err != nil {
		return "", err
	}
	defer browser.MustClose()

	page, err := browser.Page(proto.TargetCreateTarget{URL: providerURL})
	if err != nil {
		return "", err
	}

	router := browser.HijackRequests()
	defer router.MustStop()

	router.MustAdd(acsURL, func(hctx *rod.Hijack) {
		body := hctx.Request.Body()
		_ = hctx.LoadResponse(http.DefaultClient, true)
		hctx.Response.SetBody(body)
	})
	go router.Run()

	navigated := make(chan struct{})
	go func() {
		defer func() {
			// rod panics when the browser goes away mid-wait
			_ = recover()
		}()
		wait := page.EachEvent(func(e *proto.PageFrameRequestedNavigation) (stop bool) {
			return e.URL == acsURL
		})
		wait()
		close(navigated)
	}()

	select {
	case <-navigated:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(web.conf.timeout):
		return "", fmt.Errorf("no response posted to %s: %w", acsURL, ErrTimedOut)
	}

	el, err := page.Element(`body`)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", err
	}
	parts := strings.Split(text, "SAMLResponse=")
	if len(parts) < 2 {
		return "", fmt.Errorf("no SAMLResponse posted to %s", acsURL)
	}
	saml := strings.Split(parts[1], "&")[0]
	return nurl.QueryUnescape(saml)
}

// OpenInApp shows the device-verification page in an embedded browser and
// watches its navigation for the provider's login-success URL. The returned
// channel fires only if the window closes before success was seen.
func (web *Web) OpenInApp(ctx context.Context, uri string) (<-chan struct{}, error) {
	browser, err := web.launch()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: uri})
	if err != nil {
		browser.MustClose()
		return nil, err
	}

	closed := make(chan struct{})
	go func() {
		defer func() {
			_ = recover()
		}()
		go func() {
			<-ctx.Done()
			browser.MustClose()
		}()
		wait := page.EachEvent(func(e *proto.PageFrameNavigated) (stop bool) {
			return strings.Contains(e.Frame.URL, loginSuccessMarker)
		}, func(e *proto.TargetTargetDestroyed) (stop bool) {
			return true
		})
		wait()

		info, err := page.Info()
		if err != nil || !strings.Contains(info.URL, loginSuccessMarker) {
			close(closed)
			return
		}
		browser.MustClose()
	}()
	return closed, nil
}

// OpenExternal opens the URI in the user's default browser, best-effort.
func (web *Web) OpenExternal(uri string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", uri)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", uri)
	default:
		cmd = exec.Command("xdg-open", uri)
	}
	return cmd.Start()
}

func (web *Web) ClearCache() error {
	errs := []error{}

	if err := os.RemoveAll(web.conf.datadir); err != nil {
		errs = append(errs, err)
	}
	if err := checkRodProcess(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%v", errs[:])
	}
	return nil
}

// checkRodProcess gets a list running process
// kills any hanging rod browser process from any previous improprely closed sessions
func checkRodProcess() error {
	pids := make([]int, 0)
	procs, err := ps.Processes()
	if err != nil {
		return err
	}
	for _, v := range procs {
		if strings.Contains(v.Executable(), "Chromium") {
			pids = append(pids, v.Pid())
		}
	}
	for _, pid := range pids {
		fmt.Fprintf(os.Stderr, "Process to be killed as part of clean up: %d", pid)
		if proc, _ := os.FindProcess(pid); proc != nil {
			proc.Kill()
		}
	}
	return nil
}
