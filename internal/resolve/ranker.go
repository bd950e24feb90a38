package resolve

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
)

const (
	// Elements scoring below this contribute no candidate.
	minHeuristicScore = 1.0
	// A single resolver pass never emits more than this many guesses.
	maxHeuristicCandidates = 5
)

// intentKeywords drives the text heuristic. Matches in the element text are
// weighted heavier than matches buried in attributes.
var intentKeywords = map[schemas.IntentKind][]string{
	schemas.IntentLoginControl:   {"sign in", "login", "log in", "account"},
	schemas.IntentPhoneField:     {"phone", "mobile", "number"},
	schemas.IntentOTPField:       {"otp", "one time", "verification code", "code"},
	schemas.IntentSubmitControl:  {"send", "verify", "submit", "continue", "proceed"},
	schemas.IntentReturnControl:  {"return", "replace", "exchange"},
	schemas.IntentDismissControl: {"close", "accept", "later", "skip", "dismiss", "got it", "no thanks"},
}

// intentRoles maps each intent to the roles that earn a bonus.
var intentRoles = map[schemas.IntentKind][]schemas.Role{
	schemas.IntentLoginControl:   {schemas.RoleLink, schemas.RoleButton},
	schemas.IntentPhoneField:     {schemas.RoleInputTel, schemas.RoleInputText},
	schemas.IntentOTPField:       {schemas.RoleInputOTP, schemas.RoleInputText},
	schemas.IntentSubmitControl:  {schemas.RoleButton},
	schemas.IntentReturnControl:  {schemas.RoleButton, schemas.RoleLink},
	schemas.IntentDismissControl: {schemas.RoleButton, schemas.RoleClickable},
}

// Heuristic scores elements by keyword, role and layout position. It runs
// after the fixed library and the oracle, catching pages whose markup drifted
// away from the curated rules.
type Heuristic struct {
	logger *zap.Logger
}

func NewHeuristic(logger *zap.Logger) *Heuristic {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heuristic{logger: logger.Named("resolve.heuristic")}
}

func (h *Heuristic) Name() string { return string(schemas.StrategyHeuristic) }

func (h *Heuristic) Resolve(ctx context.Context, snap *schemas.PageSnapshot, intent schemas.Intent) ([]schemas.Candidate, error) {
	if snap.Empty() {
		return nil, nil
	}

	type scored struct {
		cand  schemas.Candidate
		score float64
	}
	var results []scored

	for _, el := range snap.Elements {
		if !el.Visible {
			continue
		}
		score, reasons := h.scoreElement(snap, el, intent)
		if score < minHeuristicScore {
			continue
		}
		results = append(results, scored{
			score: score,
			cand: schemas.Candidate{
				Strategy:      schemas.StrategyHeuristic,
				Element:       el,
				HasElement:    true,
				Confidence:    scoreToConfidence(score),
				Justification: strings.Join(reasons, "; "),
			},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > maxHeuristicCandidates {
		results = results[:maxHeuristicCandidates]
	}

	out := make([]schemas.Candidate, 0, len(results))
	for _, r := range results {
		out = append(out, r.cand)
	}
	h.logger.Debug("Heuristic resolution complete",
		zap.String("intent", string(intent.Kind)),
		zap.Int("candidates", len(out)))
	return out, nil
}

func (h *Heuristic) scoreElement(snap *schemas.PageSnapshot, el schemas.ElementDescriptor, intent schemas.Intent) (float64, []string) {
	var score float64
	var reasons []string

	text := strings.ToLower(el.Text)
	attrs := lowerAttrBlob(el)

	for _, kw := range intentKeywords[intent.Kind] {
		if strings.Contains(text, kw) {
			score += 3
			reasons = append(reasons, "text match \""+kw+"\"")
		} else if strings.Contains(attrs, kw) {
			score += 1.5
			reasons = append(reasons, "attribute match \""+kw+"\"")
		}
	}

	for _, role := range intentRoles[intent.Kind] {
		if el.Role == role {
			score += 1
			reasons = append(reasons, "role "+string(role))
			break
		}
	}

	// Free-text hint tokens, used by RETURN_CONTROL to pick the right card's
	// action button among many.
	if intent.Hint != "" {
		for _, token := range strings.Fields(strings.ToLower(intent.Hint)) {
			if len(token) < 4 {
				continue
			}
			if strings.Contains(text, token) || strings.Contains(attrs, token) {
				score += 0.5
				reasons = append(reasons, "hint match \""+token+"\"")
			}
		}
	}

	// Login entry points on this site sit in the top-right header strip.
	if intent.Kind == schemas.IntentLoginControl && snap.Viewport.W > 0 {
		cx, _ := el.Box.Center()
		if el.Box.Y < 120 && cx > snap.Viewport.W*0.7 {
			score += 1
			reasons = append(reasons, "top-right position")
		}
	}

	return score, reasons
}

// heuristicConfidenceCap keeps heuristic guesses below the oracle's floor.
const heuristicConfidenceCap = 0.5

// scoreToConfidence squashes an unbounded score into (0, 0.5). The heuristic
// never claims more certainty than the oracle or the curated library, and
// higher scores always map to higher confidence.
func scoreToConfidence(score float64) float64 {
	return heuristicConfidenceCap * score / (score + 2.5)
}

func lowerAttrBlob(el schemas.ElementDescriptor) string {
	if len(el.Attributes) == 0 {
		return ""
	}
	var b strings.Builder
	for k, v := range el.Attributes {
		b.WriteString(strings.ToLower(k))
		b.WriteByte('=')
		b.WriteString(strings.ToLower(v))
		b.WriteByte(' ')
	}
	return b.String()
}
