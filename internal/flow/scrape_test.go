package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akhilmat/ordermate/api/schemas"
)

const orderPagePayload = `{
	"cards": [
		{
			"title": "Blue Cotton Shirt",
			"status": "Delivered",
			"image": "https://assets.ajio.com/medias/blue-cotton-shirt.jpg",
			"text": "Blue Cotton Shirt\nOrder ID: AJO12345\n₹ 2,499.00\nDelivered on 28 Aug",
			"buttons": [{"text": "Return", "x": 300, "y": 400}, {"text": "Track Order", "x": 400, "y": 400}]
		},
		{
			"title": "",
			"status": "Shipped",
			"image": "",
			"text": "Black Denim Jeans\n#AJO67890\n₹ 1,199\nShipped",
			"buttons": []
		}
	],
	"next": {"present": false, "disabled": true, "x": 0, "y": 0}
}`

func TestScrapeOrdersParsesCards(t *testing.T) {
	browser := &fakeBrowser{evalFn: func(expr string, res interface{}) error {
		if r, ok := res.(*string); ok {
			*r = orderPagePayload
		}
		return nil
	}}
	store := &fakeStore{}
	c := newTestController(t, Deps{Browser: browser, Store: store})
	c.setState(StateAuthenticated)

	scrapedAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return scrapedAt }

	orders, err := c.ScrapeOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, StateOrdersScraped, c.State())

	shirt := orders[0]
	assert.Equal(t, "AJO12345", shirt.OrderID)
	assert.Equal(t, "Blue Cotton Shirt", shirt.ProductName)
	assert.InDelta(t, 2499.00, shirt.Price, 0.001)
	assert.Equal(t, schemas.StatusDelivered, shirt.Status)
	assert.Equal(t, "https://assets.ajio.com/medias/blue-cotton-shirt.jpg", shirt.ImageURL)
	assert.True(t, shirt.ReturnEligible, "a Return button marks the order eligible")
	assert.Equal(t, scrapedAt.AddDate(0, 0, 7), shirt.ReturnDeadline)
	assert.Equal(t, scrapedAt, shirt.ScrapedAt)

	jeans := orders[1]
	assert.Equal(t, "AJO67890", jeans.OrderID)
	// Missing title falls back to the card's first text line.
	assert.Equal(t, "Black Denim Jeans", jeans.ProductName)
	assert.InDelta(t, 1199, jeans.Price, 0.001)
	assert.Equal(t, schemas.StatusShipped, jeans.Status)
	assert.Empty(t, jeans.ImageURL)
	assert.False(t, jeans.ReturnEligible, "no return control, not eligible")
	assert.True(t, jeans.ReturnDeadline.IsZero(), "only delivered orders get a deadline")

	require.Len(t, store.upserted, 1)
	assert.Len(t, store.upserted[0], 2)
}

func TestScrapeOrdersPagination(t *testing.T) {
	pages := 0
	browser := &fakeBrowser{evalFn: func(expr string, res interface{}) error {
		r, ok := res.(*string)
		if !ok {
			return nil
		}
		pages++
		*r = `{
			"cards": [{"title": "Item", "status": "Delivered", "text": "Order ID: A` + string(rune('0'+pages)) + `", "buttons": []}],
			"next": {"present": true, "disabled": false, "x": 640, "y": 900}
		}`
		return nil
	}}
	actor := &fakeActor{}
	c := newTestController(t, Deps{Browser: browser, Actor: actor})
	c.cfg.MaxOrderPages = 3
	c.setState(StateAuthenticated)

	orders, err := c.ScrapeOrders(context.Background())
	require.NoError(t, err)
	assert.Len(t, orders, 3)
	assert.Equal(t, 3, pages)

	// Two pagination clicks carry three pages; each verifies a page change.
	require.Len(t, actor.calls, 2)
	for _, call := range actor.calls {
		assert.Equal(t, schemas.ActionClick, call.action)
		assert.Equal(t, schemas.VerifyNavigation, call.verify)
	}
}

func TestScrapeOrdersStopsWhenNextDisabled(t *testing.T) {
	browser := &fakeBrowser{evalFn: func(expr string, res interface{}) error {
		if r, ok := res.(*string); ok {
			*r = `{"cards": [], "next": {"present": true, "disabled": true, "x": 640, "y": 900}}`
		}
		return nil
	}}
	actor := &fakeActor{}
	c := newTestController(t, Deps{Browser: browser, Actor: actor})
	c.setState(StateAuthenticated)

	_, err := c.ScrapeOrders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, actor.calls)
}

func TestScrapeOrdersStateGuards(t *testing.T) {
	c := newTestController(t, Deps{})
	_, err := c.ScrapeOrders(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot scrape")

	c = newTestController(t, Deps{})
	c.setState(StateAwaitingOTP)
	_, err = c.ScrapeOrders(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAwaitingInput))
}

func TestParseOrderCardDefaults(t *testing.T) {
	c := newTestController(t, Deps{})
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	order := c.parseOrderCard(orderCard{}, 4, now)
	assert.Equal(t, "ORDER_5", order.OrderID)
	assert.Equal(t, "Product 5", order.ProductName)
	assert.Zero(t, order.Price)
	assert.Empty(t, order.ImageURL)
	assert.False(t, order.ReturnEligible)
	assert.Equal(t, schemas.StatusUnknown, order.Status)
	assert.True(t, order.ReturnDeadline.IsZero())
}

func TestHasReturnControl(t *testing.T) {
	cases := []struct {
		label string
		want  bool
	}{
		{"Return", true},
		{"RETURN / REPLACE", true},
		{"Exchange item", true},
		{"Track Order", false},
		{"Cancel", false},
	}
	for _, tc := range cases {
		card := orderCard{Buttons: []cardButton{{Text: tc.label}}}
		assert.Equal(t, tc.want, hasReturnControl(card), "button %q", tc.label)
	}
	assert.False(t, hasReturnControl(orderCard{}))
}

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		status string
		text   string
		want   schemas.OrderStatus
	}{
		{"Delivered", "", schemas.StatusDelivered},
		{"Out for delivery", "", schemas.StatusShipped},
		{"", "Your order was cancelled", schemas.StatusCancelled},
		{"Refund initiated", "", schemas.StatusReturned},
		{"Order Placed", "", schemas.StatusOrdered},
		{"", "", schemas.StatusUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeStatus(tc.status, tc.text), "status=%q text=%q", tc.status, tc.text)
	}
}

func TestOrdersScriptShape(t *testing.T) {
	// The embedded script must keep returning a serialized payload.
	assert.True(t, strings.Contains(ordersScript, "JSON.stringify"))
	assert.True(t, strings.Contains(ordersScript, "order-card"))
	assert.True(t, strings.Contains(ordersScript, "aria-label=\"Next\""))
	assert.True(t, strings.Contains(ordersScript, "image:"), "cards must carry the product image")
}
