// Package scenario defines scripted test scenarios and executes them against
// WebSocket sessions.
//
// A scenario is an ordered list of steps: send a message, expect a frame
// matching some criteria within a timeout, wait, or close the connection.
// The step set is closed; execution dispatches over it exhaustively. Each
// step produces exactly one StepResult, and a scenario keeps executing past
// failures (to surface every failure in one run) unless configured to abort
// on the first one.
//
// Matchers support exact, regex, contains, prefix, and suffix comparison on
// the payload, JSONPath comparison via github.com/ohler55/ojg, and arbitrary
// boolean predicates compiled with github.com/expr-lang/expr. Expect steps
// skip non-matching traffic transparently: an unrelated ping answered by the
// session never fails an expectation for a data message.
package scenario
