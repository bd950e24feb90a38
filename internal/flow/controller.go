package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/akhilmat/ordermate/api/schemas"
	"github.com/akhilmat/ordermate/internal/config"
)

// State names one station in the session flow.
type State string

const (
	StateStart            State = "START"
	StatePopupsDismissed  State = "POPUPS_DISMISSED"
	StateLoginOpened      State = "LOGIN_OPENED"
	StatePhoneSubmitted   State = "PHONE_SUBMITTED"
	StateAwaitingOTP      State = "AWAITING_OTP"
	StateAuthenticated    State = "AUTHENTICATED"
	StateOrdersScraped    State = "ORDERS_SCRAPED"
	StateActionDispatched State = "ACTION_DISPATCHED"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// ErrAwaitingInput marks the flow as suspended on operator input. It is a
// coordination signal, not a failure.
var ErrAwaitingInput = errors.New("flow awaiting operator input")

// Browser is the navigation surface the controller drives. Block-page
// escalation is handled below this interface.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expression string, res interface{}) error
}

// CandidateResolver turns an intent into a ranked candidate list.
type CandidateResolver interface {
	Resolve(ctx context.Context, snap *schemas.PageSnapshot, intent schemas.Intent) ([]schemas.Candidate, error)
}

// Actor executes one action against a candidate list with verification.
type Actor interface {
	Act(ctx context.Context, cands []schemas.Candidate, action schemas.ActionKind, payload string, verify schemas.VerificationKind) schemas.ActionOutcome
}

// Idler produces idle cursor movement between logical steps.
type Idler interface {
	Hesitate(ctx context.Context) error
}

// Deps collects the collaborators a Controller needs.
type Deps struct {
	Browser   Browser
	Snapshots schemas.Snapshotter
	Resolver  CandidateResolver
	Actor     Actor
	// Idler is optional; when set the controller fidgets in the pacing gap
	// before each step.
	Idler Idler
	// Store is optional; scraped orders are persisted when it is set.
	Store schemas.OrderStore
}

// Controller owns the session state machine: popup teardown, phone/OTP
// login, order scraping and return dispatch. It is safe for one flow
// goroutine plus concurrent SubmitOTP/State callers.
type Controller struct {
	cfg    config.FlowConfig
	site   config.SiteConfig
	deps   Deps
	logger *zap.Logger
	pacer  *rate.Limiter
	now    func() time.Time

	mu         sync.Mutex
	state      State
	failedStep State
	failReason string
	otpCh      chan string
}

func New(cfg config.FlowConfig, site config.SiteConfig, deps Deps, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:    cfg,
		site:   site,
		deps:   deps,
		logger: logger.Named("flow"),
		// One interaction step at a time, spaced out like a person browsing.
		pacer: rate.NewLimiter(rate.Every(1200*time.Millisecond), 1),
		now:   time.Now,
		state: StateStart,
	}
}

// State returns the current station.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FailureDetail returns the step and reason recorded by a FAILED transition.
func (c *Controller) FailureDetail() (State, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failedStep, c.failReason
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Info("Flow state transition", zap.String("from", string(prev)), zap.String("to", string(s)))
}

func (c *Controller) fail(step State, reason string) error {
	c.mu.Lock()
	c.state = StateFailed
	c.failedStep = step
	c.failReason = reason
	c.mu.Unlock()
	c.logger.Error("Flow failed", zap.String("step", string(step)), zap.String("reason", reason))
	return fmt.Errorf("flow failed at %s: %s", step, reason)
}

// isLoggedInExpr probes for the signed-in account entry that replaces the
// Sign In link once a persisted profile restores the session.
const isLoggedInExpr = `!!document.querySelector('a[href*="my-account"], [data-testid="account-menu"]')`

// RunLoginFlow drives the machine from START to AUTHENTICATED. It blocks in
// AWAITING_OTP until SubmitOTP delivers a code; with OTPTimeout set the wait
// is bounded and expiry fails the flow.
func (c *Controller) RunLoginFlow(ctx context.Context, phone string) (schemas.AuthResult, error) {
	if err := c.deps.Browser.Navigate(ctx, c.site.BaseURL); err != nil {
		return schemas.AuthResult{Step: string(StateStart)}, c.fail(StateStart, fmt.Sprintf("initial navigation: %v", err))
	}

	dismissed, err := c.DismissPopups(ctx)
	if err != nil {
		return schemas.AuthResult{Step: string(StateStart)}, err
	}
	c.logger.Info("Popup teardown complete", zap.Int("dismissed", dismissed))
	c.setState(StatePopupsDismissed)

	// A persisted browser profile may already carry the session cookies.
	var loggedIn bool
	if err := c.deps.Browser.Evaluate(ctx, isLoggedInExpr, &loggedIn); err == nil && loggedIn {
		c.setState(StateAuthenticated)
		return schemas.AuthResult{Authenticated: true, Step: "SESSION_RESTORED"}, nil
	}

	if _, err := c.step(ctx, schemas.Intent{Kind: schemas.IntentLoginControl}, schemas.ActionClick, "", schemas.VerifyNavigation); err != nil {
		return schemas.AuthResult{Step: string(StatePopupsDismissed)}, c.fail(StatePopupsDismissed, err.Error())
	}
	c.setState(StateLoginOpened)

	if _, err := c.step(ctx, schemas.Intent{Kind: schemas.IntentPhoneField}, schemas.ActionType, phone, schemas.VerifyValue); err != nil {
		return schemas.AuthResult{Step: string(StateLoginOpened)}, c.fail(StateLoginOpened, err.Error())
	}
	if _, err := c.step(ctx, schemas.Intent{Kind: schemas.IntentSubmitControl}, schemas.ActionClick, "", schemas.VerifyNone); err != nil {
		return schemas.AuthResult{Step: string(StateLoginOpened)}, c.fail(StateLoginOpened, err.Error())
	}
	c.setState(StatePhoneSubmitted)

	// The OTP entry has to render before the wait is worth anything.
	if _, err := c.step(ctx, schemas.Intent{Kind: schemas.IntentOTPField}, schemas.ActionWaitFor, "", schemas.VerifyNone); err != nil {
		return schemas.AuthResult{Step: string(StatePhoneSubmitted)}, c.fail(StatePhoneSubmitted, err.Error())
	}

	c.mu.Lock()
	c.otpCh = make(chan string, 1)
	ch := c.otpCh
	c.state = StateAwaitingOTP
	c.mu.Unlock()
	c.logger.Info("Awaiting OTP from operator", zap.Duration("timeout", c.cfg.OTPTimeout))

	code, err := c.waitForOTP(ctx, ch)
	if err != nil {
		return schemas.AuthResult{Step: string(StateAwaitingOTP)}, err
	}

	if _, err := c.step(ctx, schemas.Intent{Kind: schemas.IntentOTPField}, schemas.ActionType, code, schemas.VerifyValue); err != nil {
		return schemas.AuthResult{Step: string(StateAwaitingOTP)}, c.fail(StateAwaitingOTP, err.Error())
	}
	if _, err := c.step(ctx, schemas.Intent{Kind: schemas.IntentSubmitControl}, schemas.ActionClick, "", schemas.VerifyNavigation); err != nil {
		return schemas.AuthResult{Step: string(StateAwaitingOTP)}, c.fail(StateAwaitingOTP, err.Error())
	}

	c.setState(StateAuthenticated)
	return schemas.AuthResult{Authenticated: true, Step: string(StateAuthenticated)}, nil
}

// SubmitOTP hands the operator's code to a flow blocked in AWAITING_OTP.
func (c *Controller) SubmitOTP(code string) error {
	c.mu.Lock()
	state := c.state
	ch := c.otpCh
	c.mu.Unlock()

	if state != StateAwaitingOTP || ch == nil {
		return fmt.Errorf("%w: flow is in state %s, not awaiting an OTP", ErrAwaitingInput, state)
	}
	select {
	case ch <- code:
		return nil
	default:
		return errors.New("an OTP was already submitted")
	}
}

func (c *Controller) waitForOTP(ctx context.Context, ch <-chan string) (string, error) {
	var expired <-chan time.Time
	if c.cfg.OTPTimeout > 0 {
		timer := time.NewTimer(c.cfg.OTPTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case code := <-ch:
		return code, nil
	case <-expired:
		return "", c.fail(StateAwaitingOTP, fmt.Sprintf("no OTP submitted within %s", c.cfg.OTPTimeout))
	case <-ctx.Done():
		return "", c.fail(StateAwaitingOTP, fmt.Sprintf("context cancelled while awaiting OTP: %v", ctx.Err()))
	}
}

// DismissPopups runs the bounded popup teardown loop and reports how many
// overlays were dismissed. A site without popups is the success path, not an
// error.
func (c *Controller) DismissPopups(ctx context.Context) (int, error) {
	dismissed := 0
	for attempt := 1; attempt <= c.cfg.PopupAttempts; attempt++ {
		snap, err := c.deps.Snapshots.Capture(ctx)
		if err != nil {
			return dismissed, c.fail(StateStart, fmt.Sprintf("popup snapshot: %v", err))
		}
		if snap.Empty() {
			// Mid-navigation; let the page settle and look again.
			select {
			case <-ctx.Done():
				return dismissed, nil
			case <-time.After(snapshotSettleDelay):
			}
			continue
		}

		cands, err := c.deps.Resolver.Resolve(ctx, snap, schemas.Intent{Kind: schemas.IntentDismissControl})
		if err != nil {
			break
		}
		// Blind coordinates are never worth clicking just to close a popup
		// that may not exist.
		cands = elementBacked(cands)
		if len(cands) == 0 {
			break
		}

		outcome := c.deps.Actor.Act(ctx, cands[:1], schemas.ActionClick, "", schemas.VerifyNone)
		if !outcome.Success {
			break
		}
		dismissed++
		c.logger.Debug("Dismissed popup",
			zap.Int("attempt", attempt),
			zap.String("evidence", outcome.Evidence))
	}
	return dismissed, nil
}

// step is one resolve-then-act unit with pacing and a bounded deadline.
func (c *Controller) step(ctx context.Context, intent schemas.Intent, action schemas.ActionKind, payload string, verify schemas.VerificationKind) (schemas.ActionOutcome, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return schemas.ActionOutcome{}, err
	}
	if c.deps.Idler != nil {
		if err := c.deps.Idler.Hesitate(ctx); err != nil {
			// A failed drift never blocks the step.
			c.logger.Debug("Idle movement skipped", zap.Error(err))
		}
	}
	if c.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.StepTimeout)
		defer cancel()
	}

	snap, err := c.captureSettled(ctx)
	if err != nil {
		return schemas.ActionOutcome{}, fmt.Errorf("snapshot for %s: %w", intent.Kind, err)
	}
	cands, err := c.deps.Resolver.Resolve(ctx, snap, intent)
	if err != nil {
		return schemas.ActionOutcome{}, fmt.Errorf("resolve %s: %w", intent.Kind, err)
	}

	outcome := c.deps.Actor.Act(ctx, cands, action, payload, verify)
	if !outcome.Success {
		return outcome, fmt.Errorf("%s %s exhausted all candidates: %s", action, intent.Kind, formatTrail(outcome.Failures))
	}
	return outcome, nil
}

// snapshotSettleDelay spaces out re-captures while a navigation is still
// rendering.
const snapshotSettleDelay = 250 * time.Millisecond

// captureSettled re-captures while the snapshot comes back empty. A blank
// element table means the page is mid-navigation, not that resolution should
// fail; the step deadline bounds the wait.
func (c *Controller) captureSettled(ctx context.Context) (*schemas.PageSnapshot, error) {
	for {
		snap, err := c.deps.Snapshots.Capture(ctx)
		if err != nil {
			return nil, err
		}
		if !snap.Empty() {
			return snap, nil
		}
		c.logger.Debug("Empty snapshot, waiting for the page to settle")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("page produced no elements: %w", ctx.Err())
		case <-time.After(snapshotSettleDelay):
		}
	}
}

func elementBacked(cands []schemas.Candidate) []schemas.Candidate {
	out := cands[:0]
	for _, cand := range cands {
		if cand.HasElement {
			out = append(out, cand)
		}
	}
	return out
}

// formatTrail renders the per-candidate failure list into one line for the
// error message.
func formatTrail(failures []schemas.AttemptFailure) string {
	if len(failures) == 0 {
		return "no candidates"
	}
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("[%s] %s", f.Strategy, f.Reason))
	}
	return strings.Join(parts, "; ")
}
