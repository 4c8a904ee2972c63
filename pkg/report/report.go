// Package report aggregates step results from concurrent scenario runs into
// one immutable, deterministically ordered run report.
package report

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/getwscheck/wscheck/internal/id"
	"github.com/getwscheck/wscheck/pkg/scenario"
)

// ScenarioReport is the aggregated outcome of one scenario.
type ScenarioReport struct {
	// Name identifies the scenario.
	Name string `json:"name"`
	// Steps are the step results ordered by index.
	Steps []scenario.StepResult `json:"steps"`
	// Annotations carry closure notes recorded outside step execution, such
	// as a session's abnormal-closure cause.
	Annotations []string `json:"annotations,omitempty"`
	// Passed is true when no step failed.
	Passed bool `json:"passed"`
}

// Report is the immutable outcome of a whole run.
type Report struct {
	// RunID uniquely identifies the run.
	RunID string `json:"runId"`
	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	// Scenarios are the per-scenario outcomes, ordered by name.
	Scenarios []ScenarioReport `json:"scenarios"`
	// Passed is true when every scenario passed.
	Passed bool `json:"passed"`
}

// ExitCode maps the report onto a process exit status: 0 when every step
// passed, 1 otherwise.
func (r *Report) ExitCode() int {
	if r.Passed {
		return 0
	}
	return 1
}

// Counts returns the number of passed, failed, and skipped steps across all
// scenarios.
func (r *Report) Counts() (passed, failed, skipped int) {
	for _, sc := range r.Scenarios {
		for _, step := range sc.Steps {
			switch step.Status {
			case scenario.StatusPass:
				passed++
			case scenario.StatusFail:
				failed++
			case scenario.StatusSkipped:
				skipped++
			}
		}
	}
	return passed, failed, skipped
}

// WriteText renders the report for terminal output.
func (r *Report) WriteText(w io.Writer) {
	for _, sc := range r.Scenarios {
		status := "PASS"
		if !sc.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%s  %s\n", status, sc.Name)
		for _, step := range sc.Steps {
			switch step.Status {
			case scenario.StatusFail:
				fmt.Fprintf(w, "  step %d %s [%s]: %s", step.Index, step.Kind, step.Status, step.Reason)
				if step.Expected != "" {
					fmt.Fprintf(w, "\n    expected: %s", step.Expected)
				}
				if step.Actual != "" {
					fmt.Fprintf(w, "\n    actual:   %s", step.Actual)
				}
				fmt.Fprintln(w)
			default:
				fmt.Fprintf(w, "  step %d %s [%s] %s\n", step.Index, step.Kind, step.Status,
					step.Elapsed.Round(time.Millisecond))
			}
		}
		for _, note := range sc.Annotations {
			fmt.Fprintf(w, "  note: %s\n", note)
		}
	}

	passed, failed, skipped := r.Counts()
	fmt.Fprintf(w, "\nrun %s: %d passed, %d failed, %d skipped in %s\n",
		r.RunID, passed, failed, skipped,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}

type scenarioState struct {
	steps       []scenario.StepResult
	annotations []string
}

// Aggregator collects step results from concurrently running executors. All
// methods are safe for concurrent use. After Finalize, further records are
// dropped.
type Aggregator struct {
	mu        sync.Mutex
	runID     string
	startedAt time.Time
	scenarios map[string]*scenarioState
	finalized bool
}

// NewAggregator starts a new run with a fresh run ID.
func NewAggregator() *Aggregator {
	return &Aggregator{
		runID:     id.UUID(),
		startedAt: time.Now(),
		scenarios: make(map[string]*scenarioState),
	}
}

// RunID returns the run's unique identifier.
func (a *Aggregator) RunID() string {
	return a.runID
}

// Record stores one step result. It implements scenario.Recorder.
func (a *Aggregator) Record(scenarioID string, result scenario.StepResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return
	}
	a.state(scenarioID).steps = append(a.state(scenarioID).steps, result)
}

// Annotate attaches a closure note to a scenario, such as the cause of an
// abnormal session termination.
func (a *Aggregator) Annotate(scenarioID, note string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return
	}
	st := a.state(scenarioID)
	st.annotations = append(st.annotations, note)
}

func (a *Aggregator) state(scenarioID string) *scenarioState {
	st, ok := a.scenarios[scenarioID]
	if !ok {
		st = &scenarioState{}
		a.scenarios[scenarioID] = st
	}
	return st
}

// Finalize seals the aggregator and produces the run report, ordered by
// scenario name and then step index regardless of arrival order.
func (a *Aggregator) Finalize() *Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalized = true

	report := &Report{
		RunID:      a.runID,
		StartedAt:  a.startedAt,
		FinishedAt: time.Now(),
		Passed:     true,
	}

	names := make([]string, 0, len(a.scenarios))
	for name := range a.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		st := a.scenarios[name]

		steps := append([]scenario.StepResult(nil), st.steps...)
		sort.SliceStable(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })

		sc := ScenarioReport{
			Name:        name,
			Steps:       steps,
			Annotations: append([]string(nil), st.annotations...),
			Passed:      true,
		}
		for _, step := range steps {
			if !step.Passed() {
				sc.Passed = false
				break
			}
		}
		if !sc.Passed {
			report.Passed = false
		}
		report.Scenarios = append(report.Scenarios, sc)
	}

	return report
}
