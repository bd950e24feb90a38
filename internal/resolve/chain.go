package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
)

// ErrResolutionExhausted reports that every strategy, including the
// coordinate fallback where one exists, produced no candidates for an intent.
var ErrResolutionExhausted = errors.New("element resolution exhausted")

// fallbackPoints holds the blind coordinate guesses of last resort, expressed
// as viewport fractions. Only intents with a stable on-screen home get one.
var fallbackPoints = map[schemas.IntentKind][2]float64{
	schemas.IntentLoginControl:   {0.92, 0.04}, // header strip, far right
	schemas.IntentDismissControl: {0.66, 0.25}, // top-right corner of a centered modal
}

// Chain runs the configured resolvers in priority order and merges their
// output into one ranked candidate list.
type Chain struct {
	resolvers []schemas.Resolver
	logger    *zap.Logger
}

// NewChain builds a chain over the given resolvers. Callers pass them in
// priority order; the merge itself orders by confidence with strategy
// priority as the tie break.
func NewChain(logger *zap.Logger, resolvers ...schemas.Resolver) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		resolvers: resolvers,
		logger:    logger.Named("resolve.chain"),
	}
}

// Resolve produces the ranked candidate list for an intent. A resolver
// returning an error is logged and skipped; the chain fails only when every
// strategy and the coordinate fallback come up empty.
func (c *Chain) Resolve(ctx context.Context, snap *schemas.PageSnapshot, intent schemas.Intent) ([]schemas.Candidate, error) {
	var merged []schemas.Candidate
	for _, r := range c.resolvers {
		cands, err := r.Resolve(ctx, snap, intent)
		if err != nil {
			c.logger.Warn("Resolver failed, continuing with remaining strategies",
				zap.String("resolver", r.Name()),
				zap.String("intent", string(intent.Kind)),
				zap.Error(err))
			continue
		}
		merged = append(merged, cands...)
	}

	merged = dedupeByHandle(merged)
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Confidence != merged[j].Confidence {
			return merged[i].Confidence > merged[j].Confidence
		}
		return merged[i].Strategy.Priority() < merged[j].Strategy.Priority()
	})

	if len(merged) == 0 {
		if fb, ok := c.coordinateFallback(snap, intent); ok {
			c.logger.Warn("All strategies empty, synthesizing coordinate fallback",
				zap.String("intent", string(intent.Kind)),
				zap.Float64("x", fb.X), zap.Float64("y", fb.Y))
			return []schemas.Candidate{fb}, nil
		}
		return nil, fmt.Errorf("%w: no strategy produced a candidate for %s", ErrResolutionExhausted, intent.Kind)
	}

	c.logger.Debug("Resolution complete",
		zap.String("intent", string(intent.Kind)),
		zap.Int("candidates", len(merged)),
		zap.String("top", merged[0].Justification))
	return merged, nil
}

// dedupeByHandle collapses duplicate guesses at the same element, keeping the
// higher confidence; on equal confidence the stronger strategy wins.
// Coordinate candidates have no handle and pass through untouched.
func dedupeByHandle(cands []schemas.Candidate) []schemas.Candidate {
	best := make(map[schemas.Handle]int, len(cands))
	out := cands[:0]
	for _, cand := range cands {
		if !cand.HasElement {
			out = append(out, cand)
			continue
		}
		h := cand.Element.Handle
		if idx, seen := best[h]; seen {
			prev := out[idx]
			if cand.Confidence > prev.Confidence ||
				(cand.Confidence == prev.Confidence && cand.Strategy.Priority() < prev.Strategy.Priority()) {
				out[idx] = cand
			}
			continue
		}
		best[h] = len(out)
		out = append(out, cand)
	}
	return out
}

func (c *Chain) coordinateFallback(snap *schemas.PageSnapshot, intent schemas.Intent) (schemas.Candidate, bool) {
	frac, ok := fallbackPoints[intent.Kind]
	if !ok || snap == nil || snap.Viewport.W <= 0 || snap.Viewport.H <= 0 {
		return schemas.Candidate{}, false
	}
	return schemas.Candidate{
		Strategy:      schemas.StrategyCoordinate,
		X:             snap.Viewport.W * frac[0],
		Y:             snap.Viewport.H * frac[1],
		Confidence:    0.1,
		Justification: fmt.Sprintf("last resort: blind viewport coordinate for %s", intent.Kind),
	}, true
}
