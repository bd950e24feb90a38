package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
)

type stubResolver struct {
	name  string
	cands []schemas.Candidate
	err   error
}

func (s *stubResolver) Name() string { return s.name }

func (s *stubResolver) Resolve(ctx context.Context, snap *schemas.PageSnapshot, intent schemas.Intent) ([]schemas.Candidate, error) {
	return s.cands, s.err
}

func elementCandidate(strategy schemas.SourceStrategy, handle schemas.Handle, conf float64) schemas.Candidate {
	return schemas.Candidate{
		Strategy:   strategy,
		Element:    schemas.ElementDescriptor{Handle: handle, Tag: "button", Visible: true},
		HasElement: true,
		Confidence: conf,
	}
}

func TestChainOrdersByConfidenceThenPriority(t *testing.T) {
	chain := NewChain(zap.NewNop(),
		&stubResolver{name: "fixed", cands: []schemas.Candidate{
			elementCandidate(schemas.StrategyFixedLibrary, 0, 0.8),
		}},
		&stubResolver{name: "oracle", cands: []schemas.Candidate{
			elementCandidate(schemas.StrategyOracle, 1, 0.95),
			elementCandidate(schemas.StrategyOracle, 2, 0.8),
		}},
		&stubResolver{name: "heuristic", cands: []schemas.Candidate{
			elementCandidate(schemas.StrategyHeuristic, 3, 0.8),
		}},
	)

	cands, err := chain.Resolve(context.Background(), loginPageSnapshot(), schemas.Intent{Kind: schemas.IntentLoginControl})
	require.NoError(t, err)
	require.Len(t, cands, 4)

	for i := 1; i < len(cands); i++ {
		assert.GreaterOrEqual(t, cands[i-1].Confidence, cands[i].Confidence)
	}
	// 0.95 oracle first, then the three 0.8s ordered fixed > oracle > heuristic.
	assert.Equal(t, schemas.Handle(1), cands[0].Element.Handle)
	assert.Equal(t, schemas.StrategyFixedLibrary, cands[1].Strategy)
	assert.Equal(t, schemas.StrategyOracle, cands[2].Strategy)
	assert.Equal(t, schemas.StrategyHeuristic, cands[3].Strategy)
}

func TestChainDedupesByHandle(t *testing.T) {
	chain := NewChain(zap.NewNop(),
		&stubResolver{name: "fixed", cands: []schemas.Candidate{
			elementCandidate(schemas.StrategyFixedLibrary, 0, 0.9),
			elementCandidate(schemas.StrategyFixedLibrary, 1, 0.7),
		}},
		&stubResolver{name: "heuristic", cands: []schemas.Candidate{
			// Same element, higher confidence: the heuristic guess wins.
			elementCandidate(schemas.StrategyHeuristic, 0, 0.95),
			// Same element, same confidence: the stronger strategy wins.
			elementCandidate(schemas.StrategyHeuristic, 1, 0.7),
		}},
	)

	cands, err := chain.Resolve(context.Background(), loginPageSnapshot(), schemas.Intent{Kind: schemas.IntentLoginControl})
	require.NoError(t, err)
	require.Len(t, cands, 2)

	assert.Equal(t, schemas.Handle(0), cands[0].Element.Handle)
	assert.Equal(t, schemas.StrategyHeuristic, cands[0].Strategy)
	assert.InDelta(t, 0.95, cands[0].Confidence, 0.001)

	assert.Equal(t, schemas.Handle(1), cands[1].Element.Handle)
	assert.Equal(t, schemas.StrategyFixedLibrary, cands[1].Strategy)
}

func TestChainSkipsFailedResolver(t *testing.T) {
	chain := NewChain(zap.NewNop(),
		&stubResolver{name: "broken", err: errors.New("snapshot went stale")},
		&stubResolver{name: "heuristic", cands: []schemas.Candidate{
			elementCandidate(schemas.StrategyHeuristic, 0, 0.6),
		}},
	)

	cands, err := chain.Resolve(context.Background(), loginPageSnapshot(), schemas.Intent{Kind: schemas.IntentLoginControl})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, schemas.StrategyHeuristic, cands[0].Strategy)
}

func TestChainOracleDisabledIsSubset(t *testing.T) {
	// With the oracle silenced the remaining candidates keep their relative
	// order; disabling a strategy never reshuffles the others.
	snap := loginPageSnapshot()
	intent := schemas.Intent{Kind: schemas.IntentLoginControl}

	lib := NewFixedLibrary(zap.NewNop())
	heur := NewHeuristic(zap.NewNop())
	oracle := &stubResolver{name: "oracle", cands: []schemas.Candidate{
		elementCandidate(schemas.StrategyOracle, 5, 0.55),
	}}

	full, err := NewChain(zap.NewNop(), lib, oracle, heur).Resolve(context.Background(), snap, intent)
	require.NoError(t, err)
	reduced, err := NewChain(zap.NewNop(), lib, heur).Resolve(context.Background(), snap, intent)
	require.NoError(t, err)

	var fullNonOracle []schemas.Handle
	for _, c := range full {
		if c.Strategy != schemas.StrategyOracle {
			fullNonOracle = append(fullNonOracle, c.Element.Handle)
		}
	}
	var reducedHandles []schemas.Handle
	for _, c := range reduced {
		reducedHandles = append(reducedHandles, c.Element.Handle)
	}
	assert.Equal(t, fullNonOracle, reducedHandles)
}

func TestChainCoordinateFallback(t *testing.T) {
	empty := &stubResolver{name: "empty"}
	chain := NewChain(zap.NewNop(), empty)
	snap := loginPageSnapshot()

	cands, err := chain.Resolve(context.Background(), snap, schemas.Intent{Kind: schemas.IntentLoginControl})
	require.NoError(t, err)
	require.Len(t, cands, 1)

	fb := cands[0]
	assert.Equal(t, schemas.StrategyCoordinate, fb.Strategy)
	assert.False(t, fb.HasElement)
	assert.InDelta(t, 1280*0.92, fb.X, 0.001)
	assert.InDelta(t, 800*0.04, fb.Y, 0.001)
	assert.Contains(t, fb.Justification, "last resort")
}

func TestChainStrategyBandsNeverInterleave(t *testing.T) {
	// Even a maximally confident oracle answer merges behind the curated
	// library, and ahead of every heuristic guess.
	llm := &stubLLM{resp: `[
		{"handle": 0, "confidence": 1.0, "justification": "header link"},
		{"handle": 5, "confidence": 0.1, "justification": "long shot"}
	]`}
	chain := NewChain(zap.NewNop(),
		NewFixedLibrary(zap.NewNop()),
		NewOracle(llm, oracleTestConfig(), zap.NewNop()),
		NewHeuristic(zap.NewNop()),
	)

	cands, err := chain.Resolve(context.Background(), loginPageSnapshot(), schemas.Intent{Kind: schemas.IntentLoginControl})
	require.NoError(t, err)
	require.NotEmpty(t, cands)

	for i := 1; i < len(cands); i++ {
		assert.GreaterOrEqual(t, cands[i-1].Confidence, cands[i].Confidence)
		assert.LessOrEqual(t, cands[i-1].Strategy.Priority(), cands[i].Strategy.Priority(),
			"candidate %d (%s) outranked by weaker strategy %s", i-1, cands[i-1].Strategy, cands[i].Strategy)
	}
}

func TestChainExhaustion(t *testing.T) {
	// No fallback coordinate exists for input fields.
	chain := NewChain(zap.NewNop(), &stubResolver{name: "empty"})

	cands, err := chain.Resolve(context.Background(), loginPageSnapshot(), schemas.Intent{Kind: schemas.IntentPhoneField})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResolutionExhausted))
	assert.Nil(t, cands)
}
