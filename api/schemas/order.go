package schemas

import "time"

// OrderStatus captures the lifecycle stage reported on the orders page.
type OrderStatus string

const (
	StatusOrdered   OrderStatus = "ordered"
	StatusShipped   OrderStatus = "shipped"
	StatusDelivered OrderStatus = "delivered"
	StatusReturned  OrderStatus = "returned"
	StatusCancelled OrderStatus = "cancelled"
	StatusUnknown   OrderStatus = "unknown"
)

// Order is one scraped purchase row. OrderID is the natural key for
// persistence; scraping the same account twice must not duplicate rows.
type Order struct {
	OrderID     string      `json:"order_id"`
	ProductName string      `json:"product_name"`
	Price       float64     `json:"price"`
	ImageURL    string      `json:"image_url,omitempty"`
	Status      OrderStatus `json:"status"`
	OrderedAt   time.Time   `json:"ordered_at,omitempty"`
	// ReturnEligible records whether the order page offered a return or
	// replace control when the order was scraped.
	ReturnEligible bool      `json:"return_eligible"`
	ReturnDeadline time.Time `json:"return_deadline,omitempty"`
	Reminded       bool      `json:"reminded"`
	ScrapedAt      time.Time `json:"scraped_at"`
}

// ReturnWindowOpen reports whether the recorded deadline has not yet passed.
// Orders without a deadline never have an open window.
func (o Order) ReturnWindowOpen(now time.Time) bool {
	if o.ReturnDeadline.IsZero() {
		return false
	}
	return now.Before(o.ReturnDeadline)
}

// ReturnRequest describes the item the user wants to send back and how.
type ReturnRequest struct {
	// Action is "return", "replace", or "exchange".
	Action string `json:"action"`
	// ProductHint is free text matched against order card titles.
	ProductHint string `json:"product_hint"`
	// ColorHint optionally narrows the match when several cards share a title.
	ColorHint string `json:"color_hint,omitempty"`
	// Reason is passed through to the site's return reason field when present.
	Reason string `json:"reason,omitempty"`
}
