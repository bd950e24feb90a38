// internal/browser/humanoid/executor.go
package humanoid

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// CDPExecutor is an adapter that implements the Executor interface using
// chromedp actions. This bridges the browser-agnostic humanoid logic with the
// concrete CDP implementation.
type CDPExecutor struct {
	logger *zap.Logger
	// runActions points at the owning session's RunActions, which combines
	// the operational context with the browser's master context.
	runActions func(ctx context.Context, actions ...chromedp.Action) error
}

var _ Executor = (*CDPExecutor)(nil)

// NewCDPExecutor wires the executor to a session's action runner.
func NewCDPExecutor(runActions func(ctx context.Context, actions ...chromedp.Action) error, logger *zap.Logger) *CDPExecutor {
	return &CDPExecutor{
		logger:     logger.Named("cdp_executor"),
		runActions: runActions,
	}
}

// Sleep pauses execution for the specified duration, respecting the context.
func (e *CDPExecutor) Sleep(ctx context.Context, d time.Duration) error {
	return e.runActions(ctx, chromedp.Sleep(d))
}

// DispatchMouseEvent dispatches a single mouse event via CDP.
func (e *CDPExecutor) DispatchMouseEvent(ctx context.Context, data MouseEventData) error {
	p := input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithClickCount(int64(data.ClickCount))
	if data.Type == "mouseWheel" {
		p = p.WithDeltaX(data.DeltaX).WithDeltaY(data.DeltaY)
	}

	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := e.runActions(opCtx, p)
	if err != nil && opCtx.Err() == context.DeadlineExceeded {
		e.logger.Debug("DispatchMouseEvent timed out.", zap.String("type", data.Type))
		return fmt.Errorf("mouse event %s timed out: %w", data.Type, opCtx.Err())
	}
	return err
}

// SendKeys dispatches keyboard events via CDP to the focused element.
func (e *CDPExecutor) SendKeys(ctx context.Context, keys string) error {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := e.runActions(opCtx, chromedp.KeyEvent(keys))
	if err != nil && opCtx.Err() == context.DeadlineExceeded {
		e.logger.Debug("SendKeys timed out.")
		return fmt.Errorf("send keys timed out: %w", opCtx.Err())
	}
	return err
}
