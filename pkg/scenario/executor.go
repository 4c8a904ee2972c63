package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/getwscheck/wscheck/pkg/frame"
	"github.com/getwscheck/wscheck/pkg/session"
)

// Executor runs one compiled scenario against its sessions. Step execution
// and each session's read loop are independent concurrent units talking only
// through the session's inbound channel, so an expect step suspends without
// ever stalling keepalive replies.
type Executor struct {
	scenario *Scenario
	sessions map[string]*session.Session
	recorder Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	results []StepResult
}

// NewExecutor creates an executor. The sessions map must provide an open
// session for every connection the scenario declares. The recorder may be
// nil; results are always also returned by Run.
func NewExecutor(sc *Scenario, sessions map[string]*session.Session, recorder Recorder, logger *slog.Logger) (*Executor, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	for _, name := range sc.Connections() {
		if sessions[name] == nil {
			return nil, fmt.Errorf("%w: no session for %q", ErrUnknownConnection, name)
		}
	}
	return &Executor{
		scenario: sc,
		sessions: sessions,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Run executes every step and reports whether the scenario passed. Execution
// continues past failing steps to surface all failures in one run, unless the
// scenario is configured to abort on the first failure.
func (e *Executor) Run(ctx context.Context) ([]StepResult, bool) {
	if d := e.scenario.Deadline(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	e.logger.Info("scenario started", "scenario", e.scenario.Name(),
		"steps", e.scenario.StepCount())

	if e.scenario.Independent() && len(e.scenario.Connections()) > 1 {
		e.runIndependent(ctx)
	} else {
		e.runGroup(ctx, e.scenario.Steps())
	}

	e.mu.Lock()
	results := append([]StepResult(nil), e.results...)
	e.mu.Unlock()

	passed := true
	for _, r := range results {
		if !r.Passed() {
			passed = false
			break
		}
	}
	e.logger.Info("scenario finished", "scenario", e.scenario.Name(), "passed", passed)
	return results, passed
}

// runIndependent partitions steps by connection, preserving per-connection
// order, and runs the partitions concurrently.
func (e *Executor) runIndependent(ctx context.Context) {
	groups := make(map[string][]*Step)
	var order []string
	for _, step := range e.scenario.Steps() {
		if _, seen := groups[step.Connection]; !seen {
			order = append(order, step.Connection)
		}
		groups[step.Connection] = append(groups[step.Connection], step)
	}

	var wg sync.WaitGroup
	for _, conn := range order {
		steps := groups[conn]
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runGroup(ctx, steps)
		}()
	}
	wg.Wait()
}

// runGroup executes steps strictly in order. After a scenario-deadline hit,
// the first pending step fails with ReasonDeadline and the rest are skipped.
func (e *Executor) runGroup(ctx context.Context, steps []*Step) {
	aborted := false
	deadlineHit := false

	for _, step := range steps {
		var res StepResult
		switch {
		case aborted:
			res = skippedResult(step, "aborted after earlier failure")
		case deadlineHit:
			res = skippedResult(step, "scenario deadline exceeded")
		case ctx.Err() != nil:
			deadlineHit = true
			res = failResult(step, ReasonDeadline, "", "scenario deadline exceeded", 0)
		default:
			res = e.executeStep(ctx, step)
			if res.Status == StatusFail && res.Reason == ReasonDeadline {
				deadlineHit = true
			}
		}

		e.record(res)

		if res.Status == StatusFail && e.scenario.AbortOnFailure() {
			aborted = true
		}
	}
}

func (e *Executor) record(res StepResult) {
	e.mu.Lock()
	e.results = append(e.results, res)
	e.mu.Unlock()

	if res.Status == StatusFail {
		e.logger.Warn("step failed", "scenario", e.scenario.Name(), "step", res.Index,
			"kind", res.Kind, "reason", res.Reason, "detail", res.Detail)
	} else {
		e.logger.Debug("step done", "scenario", e.scenario.Name(), "step", res.Index,
			"kind", res.Kind, "status", res.Status)
	}

	if e.recorder != nil {
		e.recorder.Record(e.scenario.Name(), res)
	}
}

// executeStep dispatches over the closed step set.
func (e *Executor) executeStep(ctx context.Context, step *Step) StepResult {
	sess := e.sessions[step.Connection]
	start := time.Now()

	switch step.Kind {
	case StepSend:
		return e.executeSend(ctx, step, sess, start)
	case StepExpect:
		return e.executeExpect(ctx, step, sess, start)
	case StepWait:
		return e.executeWait(ctx, step, start)
	case StepClose:
		return e.executeClose(step, sess, start)
	default:
		// New compiles only known kinds; reaching this is a programming
		// error.
		return failResult(step, ReasonAssertion, "", fmt.Sprintf("unknown step kind %q", step.Kind), time.Since(start))
	}
}

func (e *Executor) executeSend(ctx context.Context, step *Step, sess *session.Session, start time.Time) StepResult {
	if delay := step.message.Delay.Duration(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return failResult(step, ReasonDeadline, "", "scenario deadline exceeded", time.Since(start))
		}
	}

	data, binary, err := step.message.GetData()
	if err != nil {
		return failResult(step, ReasonAssertion, "", err.Error(), time.Since(start))
	}
	op := frame.OpText
	if binary {
		op = frame.OpBinary
	}

	if err := sess.Send(op, data); err != nil {
		return failResult(step, ReasonTransport, "", err.Error(), time.Since(start))
	}

	return StepResult{
		Index:      step.Index,
		Kind:       step.Kind,
		Connection: step.Connection,
		Status:     StatusPass,
		Elapsed:    time.Since(start),
	}
}

// executeExpect blocks until a frame satisfying the matcher arrives, the
// step's timeout elapses, or the session ends. Observed-but-unmatched
// traffic is skipped transparently and surfaced as the "actual" diagnostic
// on timeout.
func (e *Executor) executeExpect(ctx context.Context, step *Step, sess *session.Session, start time.Time) StepResult {
	timer := time.NewTimer(step.timeout)
	defer timer.Stop()

	expected := step.matcher.String()
	var lastSeen string

	for {
		select {
		case in, ok := <-sess.Inbound():
			if !ok {
				return e.sessionEndedResult(step, sess, expected, time.Since(start))
			}
			if !step.matcher.Observes(in) {
				continue
			}
			if step.matcher.Match(in) {
				res := StepResult{
					Index:      step.Index,
					Kind:       step.Kind,
					Connection: step.Connection,
					Status:     StatusPass,
					Expected:   expected,
					Actual:     summarize(in),
					Elapsed:    time.Since(start),
				}
				return res
			}
			lastSeen = summarize(in)

		case <-timer.C:
			if step.optional {
				res := skippedResult(step, "optional expectation timed out")
				res.Expected = expected
				res.Elapsed = time.Since(start)
				return res
			}
			return failResult(step, ReasonTimeout, expected, lastSeen, time.Since(start))

		case <-ctx.Done():
			return failResult(step, ReasonDeadline, expected, "scenario deadline exceeded", time.Since(start))
		}
	}
}

// sessionEndedResult classifies an expect failure when the inbound stream
// ended before a match.
func (e *Executor) sessionEndedResult(step *Step, sess *session.Session, expected string, elapsed time.Duration) StepResult {
	err := sess.Err()
	switch {
	case errors.Is(err, session.ErrProtocolViolation):
		return failResult(step, ReasonProtocol, expected, err.Error(), elapsed)
	case err != nil:
		return failResult(step, ReasonTransport, expected, err.Error(), elapsed)
	default:
		// Clean close with no matching frame first: the expectation failed
		// on its merits.
		return failResult(step, ReasonAssertion, expected, "connection closed cleanly before a match", elapsed)
	}
}

// executeWait suspends only this scenario's execution context. Concurrent
// sessions and sibling scenarios keep running.
func (e *Executor) executeWait(ctx context.Context, step *Step, start time.Time) StepResult {
	timer := time.NewTimer(step.duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return StepResult{
			Index:      step.Index,
			Kind:       step.Kind,
			Connection: step.Connection,
			Status:     StatusPass,
			Elapsed:    time.Since(start),
		}
	case <-ctx.Done():
		return failResult(step, ReasonDeadline, "", "scenario deadline exceeded", time.Since(start))
	}
}

func (e *Executor) executeClose(step *Step, sess *session.Session, start time.Time) StepResult {
	err := sess.Close(step.closeCode, step.closeReason, step.timeout)
	switch {
	case err == nil:
		return StepResult{
			Index:      step.Index,
			Kind:       step.Kind,
			Connection: step.Connection,
			Status:     StatusPass,
			Elapsed:    time.Since(start),
		}
	case errors.Is(err, session.ErrCloseTimeout):
		return failResult(step, ReasonTimeout, "close handshake completion", err.Error(), time.Since(start))
	case errors.Is(err, session.ErrSessionClosed) && sess.Err() == nil:
		// Peer closed first and the handshake already completed cleanly.
		return StepResult{
			Index:      step.Index,
			Kind:       step.Kind,
			Connection: step.Connection,
			Status:     StatusPass,
			Detail:     "connection already closed cleanly",
			Elapsed:    time.Since(start),
		}
	default:
		return failResult(step, ReasonTransport, "close handshake completion", err.Error(), time.Since(start))
	}
}

func failResult(step *Step, reason FailureReason, expected, detail string, elapsed time.Duration) StepResult {
	return StepResult{
		Index:      step.Index,
		Kind:       step.Kind,
		Connection: step.Connection,
		Status:     StatusFail,
		Reason:     reason,
		Expected:   expected,
		Actual:     detail,
		Detail:     detail,
		Elapsed:    elapsed,
	}
}

func skippedResult(step *Step, detail string) StepResult {
	return StepResult{
		Index:      step.Index,
		Kind:       step.Kind,
		Connection: step.Connection,
		Status:     StatusSkipped,
		Detail:     detail,
	}
}

// summarize renders an inbound unit for diagnostics, truncating long
// payloads.
func summarize(in *session.Inbound) string {
	const limit = 96
	payload := string(in.Payload)
	if len(payload) > limit {
		payload = payload[:limit] + "..."
	}
	if in.Opcode == frame.OpClose {
		return fmt.Sprintf("close code=%d reason=%q", in.Code, in.Reason)
	}
	return fmt.Sprintf("%s %q", in.Opcode, payload)
}
