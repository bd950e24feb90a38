package interact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
)

// Page is the read side of the browser the executor verifies against.
type Page interface {
	CurrentURL(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expression string, res interface{}) error
}

// Input dispatches humanised mouse and keyboard events.
type Input interface {
	Click(ctx context.Context, x, y float64) error
	TypeText(ctx context.Context, text string) error
	CognitivePause(ctx context.Context, mean, stdDev time.Duration) error
}

// Probe expressions used for verification. They run in the page and must
// stay side-effect free.
const (
	domSizeExpr = `document.documentElement ? document.documentElement.outerHTML.length : 0`

	modalCountExpr = `(() => {
		const sels = '[role="dialog"], dialog[open], .modal, [class*="popup"], [class*="overlay"]';
		let n = 0;
		for (const el of document.querySelectorAll(sels)) {
			const r = el.getBoundingClientRect();
			const s = window.getComputedStyle(el);
			if (r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none') n++;
		}
		return n;
	})()`

	activeValueExpr = `(document.activeElement && ('value' in document.activeElement)) ? String(document.activeElement.value) : ''`
)

// A navigation is also recognised by the document being swapped out under
// us: the serialized root changing by more than this fraction.
const domChangeFraction = 0.10

// Options tunes verification timing.
type Options struct {
	VerifyTimeout time.Duration
	PollInterval  time.Duration
}

func (o *Options) applyDefaults() {
	if o.VerifyTimeout <= 0 {
		o.VerifyTimeout = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
}

// Executor drives a ranked candidate list through one action, falling back
// down the list until a candidate's effect verifies.
type Executor struct {
	page   Page
	input  Input
	opts   Options
	logger *zap.Logger
}

func NewExecutor(page Page, input Input, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	return &Executor{
		page:   page,
		input:  input,
		opts:   opts,
		logger: logger.Named("interact"),
	}
}

// Act tries each candidate in order and stops at the first one whose effect
// verifies. When every candidate fails the outcome carries one failure entry
// per attempt so the caller can log the full trail.
func (e *Executor) Act(ctx context.Context, cands []schemas.Candidate, action schemas.ActionKind, payload string, verify schemas.VerificationKind) schemas.ActionOutcome {
	start := time.Now()
	outcome := schemas.ActionOutcome{}

	for i := range cands {
		cand := cands[i]
		evidence, err := e.attempt(ctx, cand, action, payload, verify)
		if err == nil {
			outcome.Success = true
			outcome.Strategy = cand.Strategy
			outcome.Winner = &cand
			outcome.Evidence = evidence
			outcome.Latency = time.Since(start)
			e.logger.Info("Action verified",
				zap.String("action", string(action)),
				zap.String("strategy", string(cand.Strategy)),
				zap.String("evidence", evidence),
				zap.Duration("latency", outcome.Latency))
			return outcome
		}

		outcome.Failures = append(outcome.Failures, schemas.AttemptFailure{
			Strategy:      cand.Strategy,
			Justification: cand.Justification,
			Reason:        err.Error(),
		})
		e.logger.Debug("Candidate attempt failed, falling back",
			zap.String("action", string(action)),
			zap.String("strategy", string(cand.Strategy)),
			zap.Error(err))

		if ctx.Err() != nil {
			break
		}
	}

	outcome.Latency = time.Since(start)
	return outcome
}

func (e *Executor) attempt(ctx context.Context, cand schemas.Candidate, action schemas.ActionKind, payload string, verify schemas.VerificationKind) (string, error) {
	x, y := cand.TargetPoint()

	baseURL, baseDOM, baseModals, err := e.baseline(ctx, verify)
	if err != nil {
		return "", fmt.Errorf("verification baseline: %w", err)
	}

	if err := e.input.CognitivePause(ctx, 400*time.Millisecond, 150*time.Millisecond); err != nil {
		return "", err
	}

	switch action {
	case schemas.ActionClick:
		if err := e.input.Click(ctx, x, y); err != nil {
			return "", classify(err)
		}
	case schemas.ActionType:
		if err := e.input.Click(ctx, x, y); err != nil {
			return "", classify(err)
		}
		if err := e.input.CognitivePause(ctx, 250*time.Millisecond, 80*time.Millisecond); err != nil {
			return "", err
		}
		if err := e.input.TypeText(ctx, payload); err != nil {
			return "", classify(err)
		}
	case schemas.ActionWaitFor:
		return e.waitForPresence(ctx, x, y)
	default:
		return "", fmt.Errorf("unsupported action kind %q", action)
	}

	return e.verifyEffect(ctx, verify, payload, baseURL, baseDOM, baseModals)
}

func (e *Executor) baseline(ctx context.Context, verify schemas.VerificationKind) (url string, domSize, modals int, err error) {
	switch verify {
	case schemas.VerifyNavigation:
		if url, err = e.page.CurrentURL(ctx); err != nil {
			return
		}
		err = e.page.Evaluate(ctx, domSizeExpr, &domSize)
	case schemas.VerifyModal:
		err = e.page.Evaluate(ctx, modalCountExpr, &modals)
	}
	return
}

func (e *Executor) verifyEffect(ctx context.Context, verify schemas.VerificationKind, payload, baseURL string, baseDOM, baseModals int) (string, error) {
	switch verify {
	case schemas.VerifyNone:
		return "dispatched without error", nil

	case schemas.VerifyNavigation:
		return e.poll(ctx, func(pollCtx context.Context) (string, bool, error) {
			url, err := e.page.CurrentURL(pollCtx)
			if err != nil {
				return "", false, err
			}
			if url != baseURL {
				return fmt.Sprintf("url changed %s -> %s", baseURL, url), true, nil
			}
			var size int
			if err := e.page.Evaluate(pollCtx, domSizeExpr, &size); err != nil {
				return "", false, err
			}
			if baseDOM > 0 && floatAbs(size-baseDOM) > float64(baseDOM)*domChangeFraction {
				return fmt.Sprintf("document root changed (%d -> %d bytes)", baseDOM, size), true, nil
			}
			return "", false, nil
		}, "no navigation or document change observed")

	case schemas.VerifyModal:
		return e.poll(ctx, func(pollCtx context.Context) (string, bool, error) {
			var count int
			if err := e.page.Evaluate(pollCtx, modalCountExpr, &count); err != nil {
				return "", false, err
			}
			if count > baseModals {
				return fmt.Sprintf("visible modal count %d -> %d", baseModals, count), true, nil
			}
			return "", false, nil
		}, "no modal appeared")

	case schemas.VerifyValue:
		return e.poll(ctx, func(pollCtx context.Context) (string, bool, error) {
			var value string
			if err := e.page.Evaluate(pollCtx, activeValueExpr, &value); err != nil {
				return "", false, err
			}
			if value == payload {
				return "field value matched payload", true, nil
			}
			return "", false, nil
		}, "field value never matched payload")

	default:
		return "", fmt.Errorf("unsupported verification kind %q", verify)
	}
}

func (e *Executor) waitForPresence(ctx context.Context, x, y float64) (string, error) {
	expr := fmt.Sprintf(`(() => {
		const el = document.elementFromPoint(%.0f, %.0f);
		return !!el && el !== document.body && el !== document.documentElement;
	})()`, x, y)

	return e.poll(ctx, func(pollCtx context.Context) (string, bool, error) {
		var present bool
		if err := e.page.Evaluate(pollCtx, expr, &present); err != nil {
			return "", false, err
		}
		if present {
			return fmt.Sprintf("element present at (%.0f,%.0f)", x, y), true, nil
		}
		return "", false, nil
	}, "element never appeared")
}

// poll re-checks a condition until it holds or the verify timeout elapses.
func (e *Executor) poll(ctx context.Context, check func(context.Context) (string, bool, error), failReason string) (string, error) {
	deadline := time.Now().Add(e.opts.VerifyTimeout)
	for {
		evidence, ok, err := check(ctx)
		if err != nil {
			return "", classify(err)
		}
		if ok {
			return evidence, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("verification failed: %s", failReason)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(e.opts.PollInterval):
		}
	}
}

// transientMarkers match CDP errors thrown when the page mutates under an
// in-flight command. These are expected during SPA re-renders and simply move
// the executor on to the next candidate.
var transientMarkers = []string{
	"could not find node",
	"node with given id does not belong",
	"-32000",
	"detached",
	"execution context was destroyed",
}

// ErrTransientPage wraps a page-mutation error so callers can distinguish it
// from a hard dispatch failure.
type ErrTransientPage struct {
	cause error
}

func (e *ErrTransientPage) Error() string {
	return "transient page error: " + e.cause.Error()
}

func (e *ErrTransientPage) Unwrap() error { return e.cause }

func classify(err error) error {
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return &ErrTransientPage{cause: err}
		}
	}
	return err
}

func floatAbs(d int) float64 {
	if d < 0 {
		return float64(-d)
	}
	return float64(d)
}
