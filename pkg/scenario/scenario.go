package scenario

import (
	"fmt"
	"time"

	"github.com/getwscheck/wscheck/pkg/frame"
)

// DefaultStepTimeout bounds expect and close steps that declare no timeout.
const DefaultStepTimeout = 30 * time.Second

// StepKind is the closed set of step types.
type StepKind string

// Step kinds.
const (
	StepSend   StepKind = "send"
	StepExpect StepKind = "expect"
	StepWait   StepKind = "wait"
	StepClose  StepKind = "close"
)

// Step is a compiled scenario step.
type Step struct {
	// Index is the step's position in the scenario, starting at 0.
	Index int
	// Kind is the step type.
	Kind StepKind
	// Connection is the resolved target connection name.
	Connection string

	// message applies to send steps.
	message *MessagePayload
	// matcher applies to expect steps.
	matcher *Matcher
	// duration applies to wait steps.
	duration time.Duration
	// timeout applies to expect and close steps.
	timeout time.Duration
	// closeCode and closeReason apply to close steps.
	closeCode   frame.CloseCode
	closeReason string
	// optional marks an expect step that may time out without failing.
	optional bool
}

// Timeout returns the step's effective deadline window.
func (s *Step) Timeout() time.Duration {
	return s.timeout
}

// Scenario is a compiled, immutable scenario. Execution never mutates it, so
// one Scenario may be run any number of times.
type Scenario struct {
	name           string
	target         string
	connections    []string
	independent    bool
	abortOnFailure bool
	failFast       bool
	deadline       time.Duration
	steps          []*Step
}

// New compiles a scenario configuration, validating every step against the
// closed step set.
func New(cfg *Config) (*Scenario, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidStep)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: scenario requires a name", ErrInvalidStep)
	}
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("%w: scenario %q has no steps", ErrInvalidStep, cfg.Name)
	}

	connections := cfg.Connections
	if len(connections) == 0 {
		connections = []string{"main"}
	}
	declared := make(map[string]bool, len(connections))
	for _, c := range connections {
		declared[c] = true
	}

	s := &Scenario{
		name:           cfg.Name,
		target:         cfg.Target,
		connections:    connections,
		independent:    cfg.Independent,
		abortOnFailure: cfg.AbortOnFailure,
		failFast:       cfg.FailFast,
		deadline:       cfg.Deadline.Duration(),
	}

	for i, stepCfg := range cfg.Steps {
		step, err := newStep(i, stepCfg, connections[0], declared)
		if err != nil {
			return nil, fmt.Errorf("scenario %q step %d: %w", cfg.Name, i, err)
		}
		s.steps = append(s.steps, step)
	}

	return s, nil
}

func newStep(index int, cfg *StepConfig, defaultConn string, declared map[string]bool) (*Step, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil step", ErrInvalidStep)
	}

	conn := cfg.Connection
	if conn == "" {
		conn = defaultConn
	}
	if !declared[conn] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnection, conn)
	}

	step := &Step{
		Index:      index,
		Kind:       StepKind(cfg.Type),
		Connection: conn,
		duration:   cfg.Duration.Duration(),
		timeout:    cfg.Timeout.Duration(),
		optional:   cfg.Optional,
	}
	if step.timeout == 0 {
		step.timeout = DefaultStepTimeout
	}

	switch step.Kind {
	case StepSend:
		if cfg.Message == nil {
			return nil, fmt.Errorf("%w: send step requires a message", ErrInvalidStep)
		}
		// Fail at compile time, not mid-run, on unusable payloads.
		if _, _, err := cfg.Message.GetData(); err != nil {
			return nil, err
		}
		step.message = cfg.Message

	case StepExpect:
		m, err := NewMatcher(cfg.Match)
		if err != nil {
			return nil, err
		}
		step.matcher = m

	case StepWait:
		if step.duration <= 0 {
			return nil, fmt.Errorf("%w: wait step requires a duration", ErrInvalidStep)
		}

	case StepClose:
		code := cfg.Code
		if code == 0 {
			code = int(frame.CloseNormalClosure)
		}
		step.closeCode = frame.CloseCode(code)
		if !step.closeCode.ValidOnWire() {
			return nil, fmt.Errorf("%w: close code %d not valid on wire", ErrInvalidStep, code)
		}
		step.closeReason = cfg.Reason

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidStep, cfg.Type)
	}

	return step, nil
}

// Name returns the scenario name.
func (s *Scenario) Name() string { return s.name }

// Target returns the suite target name the scenario runs against.
func (s *Scenario) Target() string { return s.target }

// Connections returns the declared connection names.
func (s *Scenario) Connections() []string { return s.connections }

// Independent reports whether per-connection step groups may run
// concurrently.
func (s *Scenario) Independent() bool { return s.independent }

// AbortOnFailure reports whether execution stops at the first failing step.
func (s *Scenario) AbortOnFailure() bool { return s.abortOnFailure }

// FailFast reports whether an abnormal session closure aborts the whole
// scenario rather than just the steps on that connection.
func (s *Scenario) FailFast() bool { return s.failFast }

// Deadline returns the scenario-level deadline, zero if none.
func (s *Scenario) Deadline() time.Duration { return s.deadline }

// Steps returns the compiled steps in order.
func (s *Scenario) Steps() []*Step { return s.steps }

// StepCount returns the number of steps.
func (s *Scenario) StepCount() int { return len(s.steps) }
