// Package portal performs captive portal authentication by driving a
// scripted headless browser session. Each login attempt owns the full
// lifecycle of the session, including sweeping up any browser processes
// that outlive the driver.
package portal

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/hieund/wifiwarden/internal/core"
	"github.com/hieund/wifiwarden/internal/secrets"
)

// Result is the outcome of one login attempt. Timeout is reported
// separately from Failed so callers can apply different backoff later;
// current policy treats them identically.
type Result int

const (
	ResultSuccess Result = iota
	ResultTimeout
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultTimeout:
		return "timeout"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Authenticator drives the captive portal flow configured by the
// selector set.
type Authenticator struct {
	cfg    core.PortalConfig
	logger *slog.Logger

	mu            sync.Mutex
	activeSession context.CancelFunc
}

// New creates an Authenticator from config.
func New(cfg core.PortalConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{cfg: cfg, logger: logger}
}

// AttemptLogin runs one complete portal authentication flow. The browser
// session and every process it spawns are released on all exit paths.
func (a *Authenticator) AttemptLogin(ctx context.Context) Result {
	a.logger.Info("Starting captive portal authentication", "url", a.cfg.BootstrapURL)

	priorPIDs := snapshotBrowserPIDs()

	session, cancel := newSession(ctx)
	a.setActiveSession(cancel)
	defer func() {
		a.setActiveSession(nil)
		cancel()
		sweepBrowserProcesses(priorPIDs, a.logger)
	}()

	err := a.runFlow(session)
	switch {
	case err == nil:
		a.logger.Info("Captive portal authentication completed")
		return ResultSuccess
	case isTimeout(err):
		a.logger.Error("Captive portal authentication timed out", "error", err)
		return ResultTimeout
	default:
		a.logger.Error("Captive portal authentication failed", "error", err)
		return ResultFailed
	}
}

// Close cancels any in-flight browser session. Safe to call repeatedly;
// used by the shutdown path.
func (a *Authenticator) Close() {
	a.mu.Lock()
	cancel := a.activeSession
	a.activeSession = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *Authenticator) setActiveSession(cancel context.CancelFunc) {
	a.mu.Lock()
	a.activeSession = cancel
	a.mu.Unlock()
}

func (a *Authenticator) runFlow(session context.Context) error {
	sel := a.cfg.Selectors

	if err := runStep(session, a.cfg.OperationTimeout,
		chromedp.Navigate(a.cfg.BootstrapURL),
	); err != nil {
		return err
	}

	// Dismissible popups are optional; a missing popup is the normal case
	if sel.PopupDismiss != "" {
		err := runStep(session, a.cfg.PopupTimeout,
			chromedp.WaitVisible(sel.PopupDismiss, queryOption(sel.PopupDismiss)),
			chromedp.Click(sel.PopupDismiss, queryOption(sel.PopupDismiss)),
		)
		if err != nil {
			a.logger.Debug("No popup to dismiss", "error", err)
		} else {
			a.logger.Debug("Popup dismissed")
		}
	}

	if err := a.fillCredentials(session); err != nil {
		return err
	}

	if err := runStep(session, a.cfg.OperationTimeout,
		chromedp.WaitVisible(sel.StepOne, queryOption(sel.StepOne)),
		chromedp.Click(sel.StepOne, queryOption(sel.StepOne)),
	); err != nil {
		return err
	}
	a.logger.Debug("Initial access button clicked")

	// Portals commonly require a pause between interactions
	if err := chromedp.Run(session, chromedp.Sleep(a.cfg.InteractionDelay)); err != nil {
		return err
	}

	// Clicked twice: some portals drop the first click while re-rendering
	if err := runStep(session, a.cfg.OperationTimeout,
		chromedp.WaitVisible(sel.StepTwo, queryOption(sel.StepTwo)),
		chromedp.Click(sel.StepTwo, queryOption(sel.StepTwo)),
		chromedp.Click(sel.StepTwo, queryOption(sel.StepTwo)),
	); err != nil {
		return err
	}
	a.logger.Debug("Connection confirmation clicked")

	return chromedp.Run(session, chromedp.Sleep(a.cfg.PostLoginWait))
}

// fillCredentials enters keyring-stored credentials when the selector set
// includes a credential step.
func (a *Authenticator) fillCredentials(session context.Context) error {
	sel := a.cfg.Selectors
	if a.cfg.CredentialsKey == "" || sel.UsernameField == "" || sel.PasswordField == "" {
		return nil
	}

	creds, err := secrets.Get(a.cfg.CredentialsKey)
	if err != nil {
		return err
	}
	if creds == nil {
		a.logger.Warn("Portal expects credentials but keyring item is missing",
			"key", a.cfg.CredentialsKey)
		return nil
	}

	actions := []chromedp.Action{
		chromedp.WaitVisible(sel.UsernameField, queryOption(sel.UsernameField)),
		chromedp.SendKeys(sel.UsernameField, creds.Username, queryOption(sel.UsernameField)),
		chromedp.SendKeys(sel.PasswordField, creds.Password, queryOption(sel.PasswordField)),
	}
	if sel.Submit != "" {
		actions = append(actions, chromedp.Click(sel.Submit, queryOption(sel.Submit)))
	}
	if err := runStep(session, a.cfg.OperationTimeout, actions...); err != nil {
		return err
	}
	a.logger.Debug("Credentials submitted")
	return nil
}

func runStep(session context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	stepCtx, cancel := context.WithTimeout(session, timeout)
	defer cancel()
	return chromedp.Run(stepCtx, actions...)
}

// queryOption picks the chromedp selector strategy: XPath expressions go
// through the DOM search API, everything else is treated as CSS.
func queryOption(selector string) chromedp.QueryOption {
	if strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
