package flow

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
)

//go:embed orders.js
var ordersScript string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	orderIDPattern = regexp.MustCompile(`(?i)(?:Order ID|#)\s*:?\s*([A-Z0-9]+)`)
	pricePattern   = regexp.MustCompile(`₹\s*([\d,]+(?:\.\d{2})?)`)
)

// orderCard is the wire shape orders.js produces for one order on the page.
type orderCard struct {
	Title   string       `json:"title"`
	Status  string       `json:"status"`
	Image   string       `json:"image"`
	Text    string       `json:"text"`
	Buttons []cardButton `json:"buttons"`
}

type cardButton struct {
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type nextControl struct {
	Present  bool    `json:"present"`
	Disabled bool    `json:"disabled"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type ordersPayload struct {
	Cards []orderCard `json:"cards"`
	Next  nextControl `json:"next"`
}

// ScrapeOrders walks the order history, page by page, and returns every order
// it could parse. Orders are persisted through the store when one is wired.
func (c *Controller) ScrapeOrders(ctx context.Context) ([]schemas.Order, error) {
	switch c.State() {
	case StateAwaitingOTP:
		return nil, fmt.Errorf("%w: login is suspended on an OTP", ErrAwaitingInput)
	case StateAuthenticated, StateOrdersScraped, StateActionDispatched:
	default:
		return nil, fmt.Errorf("cannot scrape orders in state %s", c.State())
	}

	if err := c.deps.Browser.Navigate(ctx, c.site.OrdersURL); err != nil {
		return nil, c.fail(StateAuthenticated, fmt.Sprintf("navigation to orders: %v", err))
	}

	var orders []schemas.Order
	for page := 1; page <= c.cfg.MaxOrderPages; page++ {
		payload, err := c.extractPage(ctx)
		if err != nil {
			return orders, c.fail(StateAuthenticated, fmt.Sprintf("order page %d extraction: %v", page, err))
		}
		c.logger.Info("Scraped order page",
			zap.Int("page", page),
			zap.Int("cards", len(payload.Cards)))

		now := c.now()
		for i, card := range payload.Cards {
			orders = append(orders, c.parseOrderCard(card, (page-1)*100+i, now))
		}

		if !payload.Next.Present || payload.Next.Disabled {
			break
		}
		if page == c.cfg.MaxOrderPages {
			c.logger.Warn("Order pagination cap reached", zap.Int("pages", page))
			break
		}
		if err := c.nextPage(ctx, payload.Next); err != nil {
			c.logger.Warn("Pagination stopped early", zap.Int("page", page), zap.Error(err))
			break
		}
	}

	if c.deps.Store != nil && len(orders) > 0 {
		if err := c.deps.Store.UpsertOrders(ctx, orders); err != nil {
			return orders, c.fail(StateAuthenticated, fmt.Sprintf("persisting orders: %v", err))
		}
	}

	c.setState(StateOrdersScraped)
	return orders, nil
}

func (c *Controller) extractPage(ctx context.Context) (*ordersPayload, error) {
	var raw string
	if err := c.deps.Browser.Evaluate(ctx, ordersScript, &raw); err != nil {
		return nil, err
	}
	var payload ordersPayload
	if err := json.UnmarshalFromString(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding order payload: %w", err)
	}
	return &payload, nil
}

func (c *Controller) nextPage(ctx context.Context, next nextControl) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}
	outcome := c.deps.Actor.Act(ctx, []schemas.Candidate{{
		Strategy:      schemas.StrategyFixedLibrary,
		X:             next.X,
		Y:             next.Y,
		Confidence:    0.8,
		Justification: "pagination control located by the order page script",
	}}, schemas.ActionClick, "", schemas.VerifyNavigation)
	if !outcome.Success {
		return errors.New(formatTrail(outcome.Failures))
	}
	return nil
}

// parseOrderCard lifts one card's free text into a structured order. Missing
// pieces get stable synthetic defaults so an order is never dropped outright.
func (c *Controller) parseOrderCard(card orderCard, index int, now time.Time) schemas.Order {
	order := schemas.Order{
		ProductName: card.Title,
		ImageURL:    card.Image,
		Status:      normalizeStatus(card.Status, card.Text),
		// Eligibility comes from the card itself: the site only renders a
		// return or replace control while the window is open.
		ReturnEligible: hasReturnControl(card),
		ScrapedAt:      now,
	}

	if m := orderIDPattern.FindStringSubmatch(card.Text); m != nil {
		order.OrderID = m[1]
	} else {
		order.OrderID = fmt.Sprintf("ORDER_%d", index+1)
	}

	if m := pricePattern.FindStringSubmatch(card.Text); m != nil {
		if price, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
			order.Price = price
		}
	}

	if order.ProductName == "" {
		if line := firstLine(card.Text); line != "" {
			order.ProductName = line
		} else {
			order.ProductName = fmt.Sprintf("Product %d", index+1)
		}
	}

	// The order page does not expose the delivery date, so the window is
	// counted from observation, matching the seven day policy default.
	if order.Status == schemas.StatusDelivered {
		order.ReturnDeadline = now.AddDate(0, 0, c.cfg.ReturnWindowDays)
	}

	return order
}

func hasReturnControl(card orderCard) bool {
	for _, b := range card.Buttons {
		text := strings.ToLower(b.Text)
		if strings.Contains(text, "return") || strings.Contains(text, "replace") || strings.Contains(text, "exchange") {
			return true
		}
	}
	return false
}

func normalizeStatus(statusText, cardText string) schemas.OrderStatus {
	probe := strings.ToLower(statusText)
	if probe == "" {
		probe = strings.ToLower(cardText)
	}
	switch {
	case strings.Contains(probe, "delivered"):
		return schemas.StatusDelivered
	case strings.Contains(probe, "shipped"), strings.Contains(probe, "in transit"), strings.Contains(probe, "out for delivery"):
		return schemas.StatusShipped
	case strings.Contains(probe, "cancelled"), strings.Contains(probe, "canceled"):
		return schemas.StatusCancelled
	case strings.Contains(probe, "returned"), strings.Contains(probe, "refund"):
		return schemas.StatusReturned
	case strings.Contains(probe, "ordered"), strings.Contains(probe, "placed"), strings.Contains(probe, "confirmed"):
		return schemas.StatusOrdered
	default:
		return schemas.StatusUnknown
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
