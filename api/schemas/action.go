package schemas

import "time"

// ActionKind selects what the executor does with a resolved candidate.
type ActionKind string

const (
	ActionClick   ActionKind = "CLICK"
	ActionType    ActionKind = "TYPE"
	ActionWaitFor ActionKind = "WAIT_FOR_APPEARANCE"
)

// VerificationKind selects how the executor confirms an action took effect.
type VerificationKind string

const (
	// VerifyNavigation passes when the URL or document root changed within a
	// bounded wait after the action.
	VerifyNavigation VerificationKind = "navigation"
	// VerifyModal passes when a new visible dialog/modal appeared.
	VerifyModal VerificationKind = "modal"
	// VerifyValue passes when the target field's value equals the payload.
	VerifyValue VerificationKind = "value"
	// VerifyNone accepts the action as soon as it dispatched without error.
	VerifyNone VerificationKind = "none"
)

// AttemptFailure records why one candidate did not pan out.
type AttemptFailure struct {
	Strategy      SourceStrategy `json:"strategy"`
	Justification string         `json:"justification"`
	Reason        string         `json:"reason"`
}

// ActionOutcome reports the result of driving a candidate list through one
// action. It is consumed immediately by the flow controller and only ever
// persisted via logging.
type ActionOutcome struct {
	Success  bool           `json:"success"`
	Strategy SourceStrategy `json:"strategy,omitempty"`
	Winner   *Candidate     `json:"winner,omitempty"`
	Evidence string         `json:"evidence,omitempty"`
	Failures []AttemptFailure `json:"failures,omitempty"`
	Latency  time.Duration  `json:"latency"`
}

// AuthResult reports the terminal state of a login flow step.
type AuthResult struct {
	Authenticated bool   `json:"authenticated"`
	Step          string `json:"step"`
	Reason        string `json:"reason,omitempty"`
}
