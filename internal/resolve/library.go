package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
)

// matcherSpec is one curated rule in the fixed selector library. The rules are
// data, not code: each carries a name for the justification trail, a static
// confidence, and a predicate over an element descriptor.
type matcherSpec struct {
	Name       string
	Confidence float64
	Match      func(el schemas.ElementDescriptor) bool
}

func textIs(values ...string) func(schemas.ElementDescriptor) bool {
	return func(el schemas.ElementDescriptor) bool {
		text := strings.TrimSpace(el.Text)
		for _, v := range values {
			if strings.EqualFold(text, v) {
				return true
			}
		}
		return false
	}
}

func attrContains(key, substr string) func(schemas.ElementDescriptor) bool {
	return func(el schemas.ElementDescriptor) bool {
		return strings.Contains(strings.ToLower(el.Attr(key)), substr)
	}
}

func attrIs(key, value string) func(schemas.ElementDescriptor) bool {
	return func(el schemas.ElementDescriptor) bool {
		return strings.EqualFold(el.Attr(key), value)
	}
}

func hasRole(role schemas.Role) func(schemas.ElementDescriptor) bool {
	return func(el schemas.ElementDescriptor) bool {
		return el.Role == role
	}
}

func anyOf(preds ...func(schemas.ElementDescriptor) bool) func(schemas.ElementDescriptor) bool {
	return func(el schemas.ElementDescriptor) bool {
		for _, p := range preds {
			if p(el) {
				return true
			}
		}
		return false
	}
}

func allOf(preds ...func(schemas.ElementDescriptor) bool) func(schemas.ElementDescriptor) bool {
	return func(el schemas.ElementDescriptor) bool {
		for _, p := range preds {
			if !p(el) {
				return false
			}
		}
		return true
	}
}

// library holds the curated per-intent rules, ported from the selector lists
// the site flows were originally tuned against. Order within a slice encodes
// preference when confidences tie.
var library = map[schemas.IntentKind][]matcherSpec{
	schemas.IntentLoginControl: {
		{Name: "login-testid", Confidence: 0.95, Match: attrIs("data-testid", "login-button")},
		{Name: "login-text", Confidence: 0.90, Match: textIs("Sign In", "Login", "Sign In / Join")},
		{Name: "login-title", Confidence: 0.85, Match: attrIs("title", "Login")},
		{Name: "login-href", Confidence: 0.80, Match: allOf(hasRole(schemas.RoleLink), attrContains("href", "login"))},
	},
	schemas.IntentPhoneField: {
		{Name: "phone-name", Confidence: 0.95, Match: attrIs("name", "username")},
		{Name: "phone-type", Confidence: 0.90, Match: hasRole(schemas.RoleInputTel)},
		{Name: "phone-placeholder", Confidence: 0.85, Match: anyOf(
			attrContains("placeholder", "phone"),
			attrContains("placeholder", "mobile"),
		)},
		{Name: "phone-id", Confidence: 0.80, Match: attrIs("id", "username")},
	},
	schemas.IntentOTPField: {
		{Name: "otp-name", Confidence: 0.95, Match: attrIs("name", "otp")},
		{Name: "otp-role", Confidence: 0.90, Match: hasRole(schemas.RoleInputOTP)},
		{Name: "otp-placeholder", Confidence: 0.85, Match: anyOf(
			attrContains("placeholder", "otp"),
			attrContains("placeholder", "code"),
		)},
		{Name: "otp-testid", Confidence: 0.80, Match: attrIs("data-testid", "otp-input")},
	},
	schemas.IntentSubmitControl: {
		{Name: "submit-testid", Confidence: 0.95, Match: anyOf(
			attrIs("data-testid", "send-otp"),
			attrIs("data-testid", "verify-otp"),
		)},
		{Name: "submit-otp-text", Confidence: 0.90, Match: textIs("Send OTP", "Get OTP", "Request OTP")},
		{Name: "submit-verify-text", Confidence: 0.85, Match: textIs("Verify", "Submit", "Continue", "Login")},
		{Name: "submit-type", Confidence: 0.70, Match: allOf(hasRole(schemas.RoleButton), attrIs("type", "submit"))},
	},
	schemas.IntentReturnControl: {
		{Name: "return-text", Confidence: 0.90, Match: func(el schemas.ElementDescriptor) bool {
			if el.Role != schemas.RoleButton && el.Role != schemas.RoleLink && el.Role != schemas.RoleClickable {
				return false
			}
			text := strings.ToLower(el.Text)
			return strings.Contains(text, "return") ||
				strings.Contains(text, "replace") ||
				strings.Contains(text, "exchange")
		}},
	},
	schemas.IntentDismissControl: {
		{Name: "close-aria", Confidence: 0.90, Match: anyOf(
			attrIs("aria-label", "Close"),
			attrIs("title", "Close"),
		)},
		{Name: "close-glyph", Confidence: 0.85, Match: textIs("×", "✕", "X")},
		{Name: "consent-accept", Confidence: 0.85, Match: textIs("Accept", "Accept All", "I Accept", "Got It")},
		{Name: "defer-text", Confidence: 0.80, Match: textIs("Maybe Later", "Not Now", "No Thanks", "Skip")},
		{Name: "close-class", Confidence: 0.75, Match: anyOf(
			attrContains("class", "close"),
			attrContains("class", "modal-close"),
		)},
	},
}

// FixedLibrary resolves intents against the curated rule table. It is the
// highest-priority strategy: cheap, deterministic, and tuned to the one site
// this tool drives.
type FixedLibrary struct {
	logger *zap.Logger
}

func NewFixedLibrary(logger *zap.Logger) *FixedLibrary {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixedLibrary{logger: logger.Named("resolve.library")}
}

func (f *FixedLibrary) Name() string { return string(schemas.StrategyFixedLibrary) }

// Resolve matches every visible element against the intent's rules. Each
// element contributes at most one candidate, scored by the first rule it hits.
func (f *FixedLibrary) Resolve(ctx context.Context, snap *schemas.PageSnapshot, intent schemas.Intent) ([]schemas.Candidate, error) {
	if snap.Empty() {
		return nil, nil
	}
	specs, ok := library[intent.Kind]
	if !ok {
		return nil, nil
	}

	var out []schemas.Candidate
	for _, el := range snap.Elements {
		if !el.Visible {
			continue
		}
		for _, spec := range specs {
			if !spec.Match(el) {
				continue
			}
			out = append(out, schemas.Candidate{
				Strategy:      schemas.StrategyFixedLibrary,
				Element:       el,
				HasElement:    true,
				Confidence:    spec.Confidence,
				Justification: fmt.Sprintf("library rule %q matched %s", spec.Name, el.String()),
			})
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	f.logger.Debug("Fixed library resolution complete",
		zap.String("intent", string(intent.Kind)),
		zap.Int("candidates", len(out)))
	return out, nil
}
