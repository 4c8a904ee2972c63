package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/getwscheck/wscheck/pkg/config"
	"github.com/getwscheck/wscheck/pkg/frame"
	"github.com/getwscheck/wscheck/pkg/report"
	"github.com/getwscheck/wscheck/pkg/scenario"
	"github.com/getwscheck/wscheck/pkg/session"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultConcurrency    = 4
	shutdownCloseTimeout  = 2 * time.Second
)

// Options configures a Runner.
type Options struct {
	// Concurrency caps how many scenarios run at once. Zero selects a
	// default of 4.
	Concurrency int
	// Logger receives run progress and per-frame debug logging. Nil
	// disables logging.
	Logger *slog.Logger
}

// Runner executes a validated suite.
type Runner struct {
	suite       *config.Suite
	logger      *slog.Logger
	concurrency int
}

// New creates a Runner for a suite that already passed Validate.
func New(suite *config.Suite, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Runner{suite: suite, logger: logger, concurrency: concurrency}
}

// Run executes every scenario in the suite and returns the finalized report.
// Scenarios run concurrently up to the configured limit; results arrive in
// the report in deterministic order regardless.
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	compiled := make([]*scenario.Scenario, 0, len(r.suite.Scenarios))
	for i, cfg := range r.suite.Scenarios {
		sc, err := scenario.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("scenario %d: %w", i, err)
		}
		compiled = append(compiled, sc)
	}

	agg := report.NewAggregator()
	r.logger.Info("run started", "run", agg.RunID(),
		"suite", r.suite.Name, "scenarios", len(compiled))

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, sc := range compiled {
		sc := sc
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			r.runScenario(ctx, sc, agg)
		}()
	}
	wg.Wait()

	rep := agg.Finalize()
	r.logger.Info("run finished", "run", rep.RunID, "passed", rep.Passed)
	return rep, nil
}

// runScenario dials the scenario's connections, executes its steps, and
// shuts the sessions down afterwards.
func (r *Runner) runScenario(ctx context.Context, sc *scenario.Scenario, agg *report.Aggregator) {
	target := r.resolveTarget(sc)

	sessions := make(map[string]*session.Session, len(sc.Connections()))
	for _, name := range sc.Connections() {
		s, err := r.dial(ctx, target)
		if err != nil {
			agg.Record(sc.Name(), scenario.StepResult{
				Kind:   scenario.StepKind("connect"),
				Status: scenario.StatusFail,
				Reason: scenario.ReasonTransport,
				Detail: fmt.Sprintf("connection %q: %v", name, err),
			})
			agg.Annotate(sc.Name(), fmt.Sprintf("connection %q could not be established: %v", name, err))
			r.shutdown(sessions, agg, sc.Name())
			return
		}
		sessions[name] = s
	}

	scenCtx := ctx
	if sc.FailFast() {
		var cancel context.CancelFunc
		scenCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		for _, s := range sessions {
			s := s
			go func() {
				<-s.Done()
				if s.Err() != nil {
					cancel()
				}
			}()
		}
	}

	ex, err := scenario.NewExecutor(sc, sessions, agg, r.logger)
	if err != nil {
		agg.Annotate(sc.Name(), err.Error())
		r.shutdown(sessions, agg, sc.Name())
		return
	}

	ex.Run(scenCtx)
	r.shutdown(sessions, agg, sc.Name())
}

// resolveTarget maps the scenario's target reference to a suite target. An
// empty reference selects the first declared target; Validate already
// guaranteed that non-empty references resolve.
func (r *Runner) resolveTarget(sc *scenario.Scenario) *config.Target {
	if ref := sc.Target(); ref != "" {
		return r.suite.TargetByName(ref)
	}
	return r.suite.Targets[0]
}

func (r *Runner) dial(ctx context.Context, target *config.Target) (*session.Session, error) {
	headers, err := authHeaders(target, time.Now())
	if err != nil {
		return nil, err
	}

	connectTimeout := target.ConnectTimeout.Duration()
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var tlsCfg *tls.Config
	if target.InsecureSkipVerify {
		tlsCfg = &tls.Config{InsecureSkipVerify: true}
	}

	return session.Dial(dialCtx, session.DialConfig{
		URL:          target.URL,
		Headers:      headers,
		Subprotocols: target.Subprotocols,
		Extensions:   target.Extensions,
		TLS:          tlsCfg,
		Timeout:      connectTimeout,
		Options: session.Options{
			MaxMessageSize: target.MaxMessageSize,
			IdleTimeout:    target.IdleTimeout.Duration(),
			FragmentSize:   target.FragmentSize,
			Logger:         r.logger,
		},
	})
}

// shutdown closes every surviving session, preferring a clean close
// handshake, and annotates abnormal closures.
func (r *Runner) shutdown(sessions map[string]*session.Session, agg *report.Aggregator, scenarioID string) {
	for name, s := range sessions {
		if s.State() != session.StateClosed {
			if err := s.Close(frame.CloseNormalClosure, "", shutdownCloseTimeout); err != nil {
				s.Abort()
			}
		}
		if err := s.Err(); err != nil {
			agg.Annotate(scenarioID, fmt.Sprintf("connection %q closed abnormally: %v", name, err))
		}
	}
}
