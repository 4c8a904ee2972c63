package scenario

import "time"

// Status is the outcome of one step.
type Status string

// Step statuses.
const (
	// StatusPass means the step completed and its assertion (if any) held.
	StatusPass Status = "pass"
	// StatusFail means the step failed; Reason classifies why.
	StatusFail Status = "fail"
	// StatusSkipped means the step never ran: a prior failure aborted the
	// scenario, or an optional expectation timed out.
	StatusSkipped Status = "skipped"
)

// FailureReason classifies a failed step.
type FailureReason string

// Failure reasons.
const (
	// ReasonTimeout means the step's deadline elapsed. The session stays
	// up; only the step fails.
	ReasonTimeout FailureReason = "timeout"
	// ReasonTransport means the session's transport failed or closed while
	// the step needed it.
	ReasonTransport FailureReason = "transport"
	// ReasonProtocol means the session was closed by a protocol violation.
	ReasonProtocol FailureReason = "protocol"
	// ReasonAssertion means observed traffic contradicted the expectation
	// terminally (the stream ended without a match).
	ReasonAssertion FailureReason = "assertion"
	// ReasonDeadline means the scenario-level deadline cancelled the step.
	ReasonDeadline FailureReason = "deadline"
)

// StepResult is the outcome of exactly one step.
type StepResult struct {
	// Index is the step's position in the scenario.
	Index int `json:"index"`
	// Kind is the step type.
	Kind StepKind `json:"kind"`
	// Connection is the session the step ran against.
	Connection string `json:"connection,omitempty"`
	// Status is pass, fail, or skipped.
	Status Status `json:"status"`
	// Reason classifies a failure.
	Reason FailureReason `json:"reason,omitempty"`
	// Expected describes what the step was waiting for.
	Expected string `json:"expected,omitempty"`
	// Actual describes what was observed instead, when known.
	Actual string `json:"actual,omitempty"`
	// Detail carries the underlying error text, if any.
	Detail string `json:"detail,omitempty"`
	// Elapsed is how long the step took.
	Elapsed time.Duration `json:"elapsed"`
}

// Passed reports whether the step did not fail. Skipped steps do not fail a
// scenario by themselves.
func (r StepResult) Passed() bool {
	return r.Status != StatusFail
}

// Recorder receives step results as they are produced. The report package
// provides the canonical implementation; the interface lives here so
// execution does not depend on aggregation.
type Recorder interface {
	Record(scenarioID string, result StepResult)
}
