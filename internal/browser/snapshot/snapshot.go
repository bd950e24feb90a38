// Package snapshot turns the live DOM into the flat, handle-indexed element
// table the resolution layer works against. A snapshot is a point-in-time
// copy; its handles are positions in the captured slice and mean nothing
// after the next navigation.
package snapshot

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
)

//go:embed extract.js
var extractScript string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Evaluator is the slice of the browser session the extractor needs.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, res interface{}) error
}

// Extractor captures page snapshots through a browser session.
type Extractor struct {
	eval   Evaluator
	logger *zap.Logger
}

var _ schemas.Snapshotter = (*Extractor)(nil)

// New creates an Extractor bound to a session.
func New(eval Evaluator, logger *zap.Logger) *Extractor {
	return &Extractor{
		eval:   eval,
		logger: logger.Named("snapshot"),
	}
}

// wire structures produced by extract.js.
type jsPage struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Viewport struct {
		W int `json:"w"`
		H int `json:"h"`
	} `json:"viewport"`
	Elements []jsElement `json:"elements"`
}

type jsElement struct {
	Tag   string            `json:"tag"`
	Text  string            `json:"text"`
	Attrs map[string]string `json:"attrs"`
	Box   struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		W float64 `json:"w"`
		H float64 `json:"h"`
	} `json:"box"`
	Visible bool `json:"visible"`
}

// Capture walks the live DOM and returns a fresh snapshot. An empty element
// list is a valid result (blank page, interstitial), not an error.
func (e *Extractor) Capture(ctx context.Context) (*schemas.PageSnapshot, error) {
	var raw string
	if err := e.eval.Evaluate(ctx, extractScript, &raw); err != nil {
		if isTransientEval(err) {
			// The page is mid-navigation. Report an empty snapshot so the
			// caller can re-capture once the document settles.
			e.logger.Debug("Snapshot hit a transient page state", zap.Error(err))
			return &schemas.PageSnapshot{}, nil
		}
		return nil, fmt.Errorf("snapshot extraction script failed: %w", err)
	}

	var page jsPage
	if err := json.UnmarshalFromString(raw, &page); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}

	snap := &schemas.PageSnapshot{
		URL:      page.URL,
		Title:    page.Title,
		Viewport: schemas.BoundingBox{W: float64(page.Viewport.W), H: float64(page.Viewport.H)},
		Elements: make([]schemas.ElementDescriptor, 0, len(page.Elements)),
	}

	for i, el := range page.Elements {
		snap.Elements = append(snap.Elements, schemas.ElementDescriptor{
			Handle:     schemas.Handle(i),
			Tag:        el.Tag,
			Role:       inferRole(el),
			Text:       el.Text,
			Attributes: el.Attrs,
			Box: schemas.BoundingBox{
				X: el.Box.X, Y: el.Box.Y, W: el.Box.W, H: el.Box.H,
			},
			Visible: el.Visible,
		})
	}

	e.logger.Debug("Snapshot captured",
		zap.String("url", snap.URL),
		zap.Int("elements", len(snap.Elements)),
	)
	return snap, nil
}

// transientEvalMarkers match CDP errors thrown when the document mutates
// under the extraction script.
var transientEvalMarkers = []string{
	"could not find node",
	"-32000",
	"detached",
	"execution context was destroyed",
	"cannot find context",
}

func isTransientEval(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range transientEvalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// inferRole maps a raw DOM element onto the coarse role vocabulary the
// resolvers reason about.
func inferRole(el jsElement) schemas.Role {
	switch el.Tag {
	case "a":
		return schemas.RoleLink
	case "button", "select":
		return schemas.RoleButton
	case "input", "textarea":
		return inferInputRole(el)
	}

	switch el.Attrs["role"] {
	case "button", "tab":
		return schemas.RoleButton
	case "link":
		return schemas.RoleLink
	}
	return schemas.RoleClickable
}

func inferInputRole(el jsElement) schemas.Role {
	typ := strings.ToLower(el.Attrs["type"])
	switch typ {
	case "button", "submit":
		return schemas.RoleButton
	case "tel":
		return schemas.RoleInputTel
	}

	if isOTPField(el) {
		return schemas.RoleInputOTP
	}

	// Phone fields on login forms frequently masquerade as plain text inputs
	// named "username" or "mobile".
	hint := strings.ToLower(el.Attrs["name"] + " " + el.Attrs["id"] + " " + el.Attrs["placeholder"] + " " + el.Attrs["autocomplete"])
	for _, kw := range []string{"mobile", "phone", "tel"} {
		if strings.Contains(hint, kw) {
			return schemas.RoleInputTel
		}
	}
	return schemas.RoleInputText
}

// isOTPField detects one-time-code inputs via explicit naming or the short
// numeric maxlength shape OTP boxes share.
func isOTPField(el jsElement) bool {
	hint := strings.ToLower(el.Attrs["name"] + " " + el.Attrs["id"] + " " + el.Attrs["placeholder"] + " " + el.Attrs["aria-label"] + " " + el.Attrs["autocomplete"])
	if strings.Contains(hint, "otp") || strings.Contains(hint, "one-time") || strings.Contains(hint, "verification code") {
		return true
	}
	if ml, err := strconv.Atoi(el.Attrs["maxlength"]); err == nil && ml >= 4 && ml <= 6 {
		typ := strings.ToLower(el.Attrs["type"])
		if typ == "number" || typ == "text" || typ == "" {
			return true
		}
	}
	return false
}
