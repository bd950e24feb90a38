package schemas

// IntentKind names the semantic target of a resolution request, independent
// of any concrete selector.
type IntentKind string

const (
	IntentLoginControl   IntentKind = "LOGIN_CONTROL"
	IntentPhoneField     IntentKind = "PHONE_FIELD"
	IntentOTPField       IntentKind = "OTP_FIELD"
	IntentSubmitControl  IntentKind = "SUBMIT_CONTROL"
	IntentReturnControl  IntentKind = "RETURN_CONTROL"
	IntentDismissControl IntentKind = "DISMISS_CONTROL"
)

// Intent is a semantic target request: what kind of control the caller wants,
// plus an optional free-text hint (order ID, product name) that narrows the
// search for RETURN_CONTROL style intents.
type Intent struct {
	Kind IntentKind `json:"kind"`
	Hint string     `json:"hint,omitempty"`
}

// SourceStrategy tags which resolution tier produced a candidate. Priority
// order (highest first): fixed library, oracle, heuristic text match,
// coordinate fallback.
type SourceStrategy string

const (
	StrategyFixedLibrary SourceStrategy = "fixed-library"
	StrategyOracle       SourceStrategy = "oracle"
	StrategyHeuristic    SourceStrategy = "heuristic-text"
	StrategyCoordinate   SourceStrategy = "coordinate-fallback"
)

// Priority returns the tie-break rank of a strategy; lower wins.
func (s SourceStrategy) Priority() int {
	switch s {
	case StrategyFixedLibrary:
		return 0
	case StrategyOracle:
		return 1
	case StrategyHeuristic:
		return 2
	case StrategyCoordinate:
		return 3
	default:
		return 4
	}
}

// Candidate is one concrete, ranked guess at which element satisfies an
// Intent. Either Element is set (with a valid Handle) or Coordinate is used.
type Candidate struct {
	Strategy      SourceStrategy    `json:"strategy"`
	Element       ElementDescriptor `json:"element,omitempty"`
	HasElement    bool              `json:"has_element"`
	X             float64           `json:"x,omitempty"`
	Y             float64           `json:"y,omitempty"`
	Confidence    float64           `json:"confidence"`
	Justification string            `json:"justification"`
}

// TargetPoint returns the viewport coordinate an interaction should aim at.
func (c Candidate) TargetPoint() (float64, float64) {
	if c.HasElement {
		return c.Element.Box.Center()
	}
	return c.X, c.Y
}
