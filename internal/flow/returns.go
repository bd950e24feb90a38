package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
)

var (
	colorPattern   = regexp.MustCompile(`\b(red|blue|green|yellow|black|white|brown|gray|grey|pink|orange|purple)\b`)
	productPattern = regexp.MustCompile(`\b(shirt|pants|shoes|dress|jacket|top|bottom|jeans|tshirt|t-shirt|kurta|saree)\b`)
)

// ParseCommand lifts a free-text operator command ("return my blue shirt")
// into a structured request. Only the action verb is mandatory.
func ParseCommand(command string) (schemas.ReturnRequest, error) {
	lower := strings.ToLower(strings.TrimSpace(command))

	req := schemas.ReturnRequest{ProductHint: lower}
	switch {
	case strings.Contains(lower, "return"):
		req.Action = "return"
	case strings.Contains(lower, "replace"):
		req.Action = "replace"
	case strings.Contains(lower, "exchange"):
		req.Action = "exchange"
	default:
		return schemas.ReturnRequest{}, fmt.Errorf("command %q names no return, replace or exchange action", command)
	}

	if colors := colorPattern.FindAllString(lower, -1); len(colors) > 0 {
		req.ColorHint = strings.Join(colors, " ")
	}
	return req, nil
}

// matchScore rates how well one order card fits the request. Color mentions
// weigh 2, product types 3, other long keywords 0.5 and a matching action
// button 1. A card without the action button scores zero regardless of text.
func matchScore(card orderCard, req schemas.ReturnRequest) float64 {
	text := strings.ToLower(card.Text)
	var score float64

	for _, color := range colorPattern.FindAllString(req.ColorHint, -1) {
		if strings.Contains(text, color) {
			score += 2
		}
	}
	for _, product := range productPattern.FindAllString(req.ProductHint, -1) {
		if strings.Contains(text, product) {
			score += 3
		}
	}
	for _, keyword := range strings.Fields(req.ProductHint) {
		if len(keyword) > 3 && strings.Contains(text, keyword) {
			score += 0.5
		}
	}

	if _, ok := actionButton(card, req.Action); !ok {
		return 0
	}
	return score + 1
}

// actionButton finds the card button that performs the requested action.
// Replace and exchange are interchangeable labels on the site.
func actionButton(card orderCard, action string) (cardButton, bool) {
	for _, b := range card.Buttons {
		text := strings.ToLower(b.Text)
		switch action {
		case "return":
			if strings.Contains(text, "return") {
				return b, true
			}
		case "replace", "exchange":
			if strings.Contains(text, "replace") || strings.Contains(text, "exchange") {
				return b, true
			}
		}
	}
	return cardButton{}, false
}

// reasonFillExpr makes a best effort at the reason dialog: pick the first
// real option in a reason dropdown, or fill a free-text reason field.
const reasonFillExpr = `(() => {
	const sel = document.querySelector('select[name*="reason"], .reason-select, [data-testid="return-reason"] select');
	if (sel && sel.options.length > 1) {
		sel.selectedIndex = 1;
		sel.dispatchEvent(new Event('change', { bubbles: true }));
		return 'selected';
	}
	const input = document.querySelector('input[name*="reason"], textarea[name*="reason"]');
	if (input) {
		input.value = %q;
		input.dispatchEvent(new Event('input', { bubbles: true }));
		return 'filled';
	}
	return 'absent';
})()`

// ExecuteReturnLike locates the order best matching the request, clicks its
// return or replace control and walks the confirmation dialog.
func (c *Controller) ExecuteReturnLike(ctx context.Context, req schemas.ReturnRequest) (schemas.ActionOutcome, error) {
	switch c.State() {
	case StateAwaitingOTP:
		return schemas.ActionOutcome{}, fmt.Errorf("%w: login is suspended on an OTP", ErrAwaitingInput)
	case StateAuthenticated, StateOrdersScraped, StateActionDispatched:
	default:
		return schemas.ActionOutcome{}, fmt.Errorf("cannot dispatch a %s in state %s", req.Action, c.State())
	}

	if err := c.deps.Browser.Navigate(ctx, c.site.OrdersURL); err != nil {
		return schemas.ActionOutcome{}, c.fail(StateOrdersScraped, fmt.Sprintf("navigation to orders: %v", err))
	}
	payload, err := c.extractPage(ctx)
	if err != nil {
		return schemas.ActionOutcome{}, c.fail(StateOrdersScraped, fmt.Sprintf("order extraction: %v", err))
	}

	var best orderCard
	var bestScore float64
	for _, card := range payload.Cards {
		if score := matchScore(card, req); score > bestScore {
			bestScore = score
			best = card
		}
	}
	if bestScore == 0 {
		return schemas.ActionOutcome{}, c.fail(StateOrdersScraped,
			fmt.Sprintf("no order matched %q (checked %d cards)", req.ProductHint, len(payload.Cards)))
	}
	button, _ := actionButton(best, req.Action)
	c.logger.Info("Matched order for action",
		zap.String("action", req.Action),
		zap.String("product", best.Title),
		zap.Float64("score", bestScore))

	if err := c.pacer.Wait(ctx); err != nil {
		return schemas.ActionOutcome{}, err
	}
	outcome := c.deps.Actor.Act(ctx, []schemas.Candidate{{
		Strategy:      schemas.StrategyFixedLibrary,
		X:             button.X,
		Y:             button.Y,
		Confidence:    0.85,
		Justification: fmt.Sprintf("%s button on the best matching order card (score %.1f)", req.Action, bestScore),
	}}, schemas.ActionClick, "", schemas.VerifyModal)
	if !outcome.Success {
		return outcome, c.fail(StateOrdersScraped, fmt.Sprintf("%s click: %s", req.Action, formatTrail(outcome.Failures)))
	}

	if err := c.confirmAction(ctx, req); err != nil {
		return outcome, c.fail(StateActionDispatched, err.Error())
	}

	c.setState(StateActionDispatched)
	return outcome, nil
}

func (c *Controller) confirmAction(ctx context.Context, req schemas.ReturnRequest) error {
	reason := req.Reason
	if reason == "" {
		reason = "Product not as expected"
	}
	var filled string
	if err := c.deps.Browser.Evaluate(ctx, fmt.Sprintf(reasonFillExpr, reason), &filled); err != nil {
		c.logger.Debug("Reason fill probe failed", zap.Error(err))
	} else {
		c.logger.Debug("Reason step handled", zap.String("result", filled))
	}

	if _, err := c.step(ctx, schemas.Intent{Kind: schemas.IntentSubmitControl, Hint: req.Action},
		schemas.ActionClick, "", schemas.VerifyNone); err != nil {
		return fmt.Errorf("confirmation: %v", err)
	}
	return nil
}

// Finish marks a completed session.
func (c *Controller) Finish() {
	c.setState(StateDone)
}
