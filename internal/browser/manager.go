package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/internal/browser/session"
	"github.com/akhilmat/ordermate/internal/browser/stealth"
	"github.com/akhilmat/ordermate/internal/config"
)

// Manager owns the live session and its persona. When a navigation runs into
// the site's block page it burns the identity: the session is torn down and
// reopened under a fresh persona before one retry.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
	rng    *rand.Rand

	mu      sync.Mutex
	sess    *session.Session
	persona stealth.Persona
	closed  bool
}

// NewManager opens the initial session. The configured persona is used when
// set; otherwise one is drawn at random.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	m.persona = stealth.PickPersona(cfg.Persona, m.rng)

	sess, err := session.New(ctx, cfg, m.persona, logger)
	if err != nil {
		return nil, fmt.Errorf("opening initial session: %w", err)
	}
	m.sess = sess
	m.logger.Info("Browser session ready",
		zap.String("sessionID", sess.ID()),
		zap.String("persona", m.persona.Name))
	return m, nil
}

// Persona returns the identity the current session presents.
func (m *Manager) Persona() stealth.Persona {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persona
}

func (m *Manager) current() (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.sess == nil {
		return nil, errors.New("browser manager is closed")
	}
	return m.sess, nil
}

// Navigate loads a URL, escalating through fresh personas when the site
// serves its block page. Retries are bounded by the configured budget.
func (m *Manager) Navigate(ctx context.Context, url string) error {
	sess, err := m.current()
	if err != nil {
		return err
	}

	navErr := sess.Navigate(ctx, url)
	for attempt := 1; errors.Is(navErr, stealth.ErrBlocked) && attempt <= m.cfg.BlockRetries; attempt++ {
		m.logger.Warn("Block page detected, rotating identity",
			zap.Int("attempt", attempt),
			zap.Int("budget", m.cfg.BlockRetries))
		if err := m.rotate(ctx); err != nil {
			return fmt.Errorf("identity rotation after block: %w", err)
		}
		sess, err = m.current()
		if err != nil {
			return err
		}
		navErr = sess.Navigate(ctx, url)
	}
	if errors.Is(navErr, stealth.ErrBlocked) {
		return fmt.Errorf("still blocked after %d identity rotations: %w", m.cfg.BlockRetries, navErr)
	}
	return navErr
}

// rotate replaces the session with one wearing a different persona. The
// persisted profile directory is deliberately left behind; its cookies belong
// to the burned identity.
func (m *Manager) rotate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("browser manager is closed")
	}

	old := m.persona
	next := stealth.PickPersona("", m.rng)
	for next.Name == old.Name && len(stealth.Personas()) > 1 {
		next = stealth.PickPersona("", m.rng)
	}

	if m.sess != nil {
		m.sess.Close()
	}
	cfg := m.cfg
	cfg.UserDataDir = ""

	sess, err := session.New(ctx, cfg, next, m.logger)
	if err != nil {
		m.sess = nil
		return err
	}
	m.sess = sess
	m.persona = next
	m.logger.Info("Identity rotated",
		zap.String("from", old.Name),
		zap.String("to", next.Name),
		zap.String("sessionID", sess.ID()))
	return nil
}

// RunActions forwards chromedp actions to the live session, so input
// executors built over the manager survive identity rotation.
func (m *Manager) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	sess, err := m.current()
	if err != nil {
		return err
	}
	return sess.RunActions(ctx, actions...)
}

func (m *Manager) CurrentURL(ctx context.Context) (string, error) {
	sess, err := m.current()
	if err != nil {
		return "", err
	}
	return sess.CurrentURL(ctx)
}

func (m *Manager) Content(ctx context.Context) (string, error) {
	sess, err := m.current()
	if err != nil {
		return "", err
	}
	return sess.Content(ctx)
}

func (m *Manager) Evaluate(ctx context.Context, expression string, res interface{}) error {
	sess, err := m.current()
	if err != nil {
		return err
	}
	return sess.Evaluate(ctx, expression, res)
}

// Close tears down the live session. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.sess != nil {
		m.sess.Close()
		m.sess = nil
	}
}
