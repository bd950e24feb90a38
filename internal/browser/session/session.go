// internal/browser/session/session.go
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/internal/browser/stealth"
	"github.com/akhilmat/ordermate/internal/config"
)

// Session owns one browser instance and the tab the automation drives. All
// interaction with the page funnels through RunActions so that caller
// deadlines and the browser lifetime are both honored.
type Session struct {
	id      string
	cfg     config.BrowserConfig
	persona stealth.Persona
	logger  *zap.Logger

	allocCtx     context.Context
	allocCancel  context.CancelFunc
	browserCtx   context.Context
	browserClose context.CancelFunc

	mu       sync.Mutex
	isClosed bool
}

// New launches a browser, opens a tab and applies the stealth persona to it.
// The returned session must be Closed by the caller.
func New(ctx context.Context, cfg config.BrowserConfig, persona stealth.Persona, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()
	sessionLogger := logger.Named("session").With(
		zap.String("session_id", sessionID),
		zap.String("persona", persona.Name),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOptions(cfg, persona)...)
	browserCtx, browserClose := chromedp.NewContext(allocCtx)

	s := &Session{
		id:           sessionID,
		cfg:          cfg,
		persona:      persona,
		logger:       sessionLogger,
		allocCtx:     allocCtx,
		allocCancel:  allocCancel,
		browserCtx:   browserCtx,
		browserClose: browserClose,
	}

	// Starting the browser and applying the persona happens before the first
	// navigation so no page ever sees the unpatched environment.
	if err := s.RunActions(ctx, stealth.Apply(persona, sessionLogger)); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser with persona %s: %w", persona.Name, err)
	}

	sessionLogger.Info("Browser session started")
	return s, nil
}

// execOptions translates the application config into chromedp allocator options.
func execOptions(cfg config.BrowserConfig, persona stealth.Persona) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		// The automation banner and AutomationControlled blink feature are
		// the loudest headless tells.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.WindowSize(persona.Viewport[0], persona.Viewport[1]),
		chromedp.UserAgent(persona.UserAgent),
	)

	if cfg.Headless {
		opts = append(opts, chromedp.Headless, chromedp.DisableGPU)
	}

	// A persistent profile keeps cookies, so a previous login survives
	// restarts and the OTP step can be skipped entirely.
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	// Additional flags from the config file's 'args' slice.
	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(arg, "--")
		if key, value, found := strings.Cut(arg, "="); found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(arg, true))
		}
	}
	return opts
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// Persona returns the stealth profile this session was started with.
func (s *Session) Persona() stealth.Persona {
	return s.persona
}

// RunActions executes chromedp actions against the session's tab, honoring
// both the operational context and the browser lifetime.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return fmt.Errorf("session %s is closed", s.id)
	}
	s.mu.Unlock()

	runCtx, cancel := CombineContext(s.browserCtx, ctx)
	defer cancel()

	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a URL, waits for the document to settle and checks the
// served content against the site's bot-detection interstitial. A blocked
// response returns stealth.ErrBlocked so the caller can rotate personas.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))

	navCtx := ctx
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, s.cfg.NavigationTimeout)
		defer cancel()
	}

	actions := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if s.cfg.PostLoadWait > 0 {
		actions = append(actions, chromedp.Sleep(s.cfg.PostLoadWait))
	}

	if err := s.RunActions(navCtx, actions); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	content, err := s.Content(navCtx)
	if err != nil {
		return fmt.Errorf("failed to read page after navigating to %s: %w", url, err)
	}
	if stealth.IsBlockPage(content) {
		s.logger.Warn("Bot detection interstitial served", zap.String("url", url))
		return stealth.ErrBlocked
	}
	return nil
}

// Content returns the full serialized DOM of the current page.
func (s *Session) Content(ctx context.Context) (string, error) {
	var html string
	if err := s.RunActions(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to capture page content: %w", err)
	}
	return html, nil
}

// CurrentURL returns the tab's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.RunActions(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Title returns the current document title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.RunActions(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

// Evaluate runs a JavaScript expression in the page and unmarshals the result
// into res. Pass nil to discard the result.
func (s *Session) Evaluate(ctx context.Context, expression string, res interface{}) error {
	return s.RunActions(ctx, chromedp.Evaluate(expression, res))
}

// Close shuts down the tab and the browser process. It is safe to call more
// than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")

	// Give the browser a moment to shut down cleanly before the allocator is
	// torn down.
	if s.browserCtx != nil {
		cancelCtx, cancel := context.WithTimeout(Detach(s.browserCtx), 5*time.Second)
		_ = chromedp.Cancel(cancelCtx)
		cancel()
	}
	if s.browserClose != nil {
		s.browserClose()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}
