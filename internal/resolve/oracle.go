package resolve

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
	"github.com/akhilmat/ordermate/internal/config"
	"github.com/akhilmat/ordermate/internal/llmutil"
)

const oracleSystemPrompt = `You are an expert web automation analyst. You are given a numbered list of
interactive elements captured from a live page, and a target described by an
intent. Identify which elements satisfy the intent.

Respond ONLY with a JSON array of objects, best match first:
[{"handle": <int>, "confidence": <0.0-1.0>, "justification": "<one sentence>"}]

Return an empty array if nothing matches. Never invent handles.`

// Reported confidences are pressed into the oracle band: never below the
// heuristic's ceiling, never above the fixed library's floor.
const (
	oracleConfidenceFloor = 0.5
	oracleConfidenceCap   = 0.7
)

// oracleCandidate is the wire shape the model is asked to produce.
type oracleCandidate struct {
	Handle        int     `json:"handle"`
	Confidence    float64 `json:"confidence"`
	Justification string  `json:"justification"`
}

// Oracle consults an LLM when the fixed library comes back empty or
// ambiguous. Every failure mode (disabled, transport, malformed output,
// hallucinated handles) degrades to zero candidates; the oracle never fails a
// resolution outright.
type Oracle struct {
	client schemas.LLMClient
	cfg    config.OracleConfig
	logger *zap.Logger
}

func NewOracle(client schemas.LLMClient, cfg config.OracleConfig, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{
		client: client,
		cfg:    cfg,
		logger: logger.Named("resolve.oracle"),
	}
}

func (o *Oracle) Name() string { return string(schemas.StrategyOracle) }

func (o *Oracle) Resolve(ctx context.Context, snap *schemas.PageSnapshot, intent schemas.Intent) ([]schemas.Candidate, error) {
	if !o.cfg.Enabled || o.client == nil || snap.Empty() {
		return nil, nil
	}

	raw, err := o.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: oracleSystemPrompt,
		UserPrompt:   o.buildPrompt(snap, intent),
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     o.cfg.Temperature,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		o.logger.Warn("Oracle generation failed, degrading to zero candidates",
			zap.String("intent", string(intent.Kind)), zap.Error(err))
		return nil, nil
	}

	parsed, err := llmutil.ParseJSONResponse[[]oracleCandidate](raw)
	if err != nil {
		o.logger.Warn("Oracle returned unparseable output",
			zap.String("intent", string(intent.Kind)), zap.Error(err))
		return nil, nil
	}

	var out []schemas.Candidate
	for _, oc := range *parsed {
		el, ok := snap.Element(schemas.Handle(oc.Handle))
		if !ok {
			o.logger.Debug("Oracle proposed an unknown handle, skipping",
				zap.Int("handle", oc.Handle))
			continue
		}
		conf := oc.Confidence
		if conf < oracleConfidenceFloor {
			conf = oracleConfidenceFloor
		}
		if conf > oracleConfidenceCap {
			conf = oracleConfidenceCap
		}
		out = append(out, schemas.Candidate{
			Strategy:      schemas.StrategyOracle,
			Element:       el,
			HasElement:    true,
			Confidence:    conf,
			Justification: oc.Justification,
		})
		if o.cfg.MaxCandidates > 0 && len(out) >= o.cfg.MaxCandidates {
			break
		}
	}
	o.logger.Debug("Oracle resolution complete",
		zap.String("intent", string(intent.Kind)),
		zap.Int("candidates", len(out)))
	return out, nil
}

// buildPrompt renders the intent plus a bounded element digest. Text is
// truncated and the element count capped so large pages stay inside the
// model's useful context.
func (o *Oracle) buildPrompt(snap *schemas.PageSnapshot, intent schemas.Intent) string {
	limit := o.cfg.MaxElements
	if limit <= 0 || limit > len(snap.Elements) {
		limit = len(snap.Elements)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s\n", intent.Kind)
	if intent.Hint != "" {
		fmt.Fprintf(&b, "Hint: %s\n", intent.Hint)
	}
	fmt.Fprintf(&b, "Page: %s (%s)\nElements:\n", snap.Title, snap.URL)

	for _, el := range snap.Elements[:limit] {
		if !el.Visible {
			continue
		}
		text := el.Text
		if len(text) > 80 {
			text = text[:80] + "..."
		}
		fmt.Fprintf(&b, "[%d] <%s> role=%s text=%q", el.Handle, el.Tag, el.Role, text)
		for _, key := range []string{"id", "name", "placeholder", "aria-label", "class", "type", "href"} {
			if v := el.Attr(key); v != "" {
				if len(v) > 60 {
					v = v[:60] + "..."
				}
				fmt.Fprintf(&b, " %s=%q", key, v)
			}
		}
		fmt.Fprintf(&b, " @(%.0f,%.0f)\n", el.Box.X, el.Box.Y)
	}
	return b.String()
}
