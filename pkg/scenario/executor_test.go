package scenario

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getwscheck/wscheck/pkg/session"
)

// echoServer answers every message with its own payload.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := ws.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if err := c.Write(ctx, typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// silentServer accepts the connection and never sends application traffic.
func silentServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := ws.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		// Reads keep the connection serviced without ever replying.
		ctx := r.Context()
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialSessions(t *testing.T, srv *httptest.Server, names ...string) map[string]*session.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessions := make(map[string]*session.Session, len(names))
	for _, name := range names {
		s, err := session.Dial(ctx, session.DialConfig{URL: wsURL(srv)})
		require.NoError(t, err)
		t.Cleanup(s.Abort)
		sessions[name] = s
	}
	return sessions
}

func compile(t *testing.T, cfg *Config) *Scenario {
	t.Helper()
	sc, err := New(cfg)
	require.NoError(t, err)
	return sc
}

// memoryRecorder collects results the way the report aggregator would.
type memoryRecorder struct {
	mu      sync.Mutex
	results []StepResult
}

func (r *memoryRecorder) Record(_ string, res StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *memoryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func TestExecutor_SendExpectClosePasses(t *testing.T) {
	srv := echoServer(t)
	sc := compile(t, &Config{
		Name: "echo-round-trip",
		Steps: []*StepConfig{
			{Type: "send", Message: &MessagePayload{Type: "text", Value: "ping-1"}},
			{Type: "expect", Match: &MatchCriteria{Type: "exact", Value: "ping-1"}, Timeout: Duration(2 * time.Second)},
			{Type: "close", Timeout: Duration(2 * time.Second)},
		},
	})

	rec := &memoryRecorder{}
	ex, err := NewExecutor(sc, dialSessions(t, srv, "main"), rec, nil)
	require.NoError(t, err)

	results, passed := ex.Run(context.Background())
	require.True(t, passed)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, StatusPass, r.Status, "step %d", r.Index)
	}
	assert.Equal(t, 3, rec.count())
}

func TestExecutor_JSONMatchAgainstEcho(t *testing.T) {
	srv := echoServer(t)
	sc := compile(t, &Config{
		Name: "json-echo",
		Steps: []*StepConfig{
			{Type: "send", Message: &MessagePayload{Type: "json", Value: map[string]interface{}{"action": "login", "id": 7}}},
			{Type: "expect", Match: &MatchCriteria{Type: "json", Path: "$.action", Value: "login"}, Timeout: Duration(2 * time.Second)},
		},
	})

	ex, err := NewExecutor(sc, dialSessions(t, srv, "main"), nil, nil)
	require.NoError(t, err)

	_, passed := ex.Run(context.Background())
	assert.True(t, passed)
}

func TestExecutor_ExpectTimeoutFailsStepOnly(t *testing.T) {
	srv := silentServer(t)
	sc := compile(t, &Config{
		Name: "timeout",
		Steps: []*StepConfig{
			{Type: "expect", Match: &MatchCriteria{Type: "exact", Value: "never"}, Timeout: Duration(100 * time.Millisecond)},
			{Type: "send", Message: &MessagePayload{Type: "text", Value: "still-works"}},
		},
	})

	sessions := dialSessions(t, srv, "main")
	ex, err := NewExecutor(sc, sessions, nil, nil)
	require.NoError(t, err)

	start := time.Now()
	results, passed := ex.Run(context.Background())
	elapsed := time.Since(start)

	assert.False(t, passed)
	require.Len(t, results, 2)

	assert.Equal(t, StatusFail, results[0].Status)
	assert.Equal(t, ReasonTimeout, results[0].Reason)
	assert.Equal(t, `exact "never"`, results[0].Expected)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)

	// The session survived the timed-out expectation.
	assert.Equal(t, StatusPass, results[1].Status)
	assert.Equal(t, session.StateOpen, sessions["main"].State())
}

func TestExecutor_TimeoutReportsLastNonMatch(t *testing.T) {
	srv := echoServer(t)
	sc := compile(t, &Config{
		Name: "diagnostics",
		Steps: []*StepConfig{
			{Type: "send", Message: &MessagePayload{Type: "text", Value: "actual-traffic"}},
			{Type: "expect", Match: &MatchCriteria{Type: "exact", Value: "expected-reply"}, Timeout: Duration(300 * time.Millisecond)},
		},
	})

	ex, err := NewExecutor(sc, dialSessions(t, srv, "main"), nil, nil)
	require.NoError(t, err)

	results, passed := ex.Run(context.Background())
	assert.False(t, passed)
	require.Len(t, results, 2)
	assert.Contains(t, results[1].Actual, "actual-traffic")
}

func TestExecutor_OptionalExpectSkips(t *testing.T) {
	srv := silentServer(t)
	sc := compile(t, &Config{
		Name: "optional",
		Steps: []*StepConfig{
			{Type: "expect", Match: &MatchCriteria{Type: "exact", Value: "maybe"}, Timeout: Duration(100 * time.Millisecond), Optional: true},
			{Type: "send", Message: &MessagePayload{Type: "text", Value: "after"}},
		},
	})

	ex, err := NewExecutor(sc, dialSessions(t, srv, "main"), nil, nil)
	require.NoError(t, err)

	results, passed := ex.Run(context.Background())
	assert.True(t, passed)
	require.Len(t, results, 2)
	assert.Equal(t, StatusSkipped, results[0].Status)
	assert.Equal(t, StatusPass, results[1].Status)
}

func TestExecutor_AbortOnFailureSkipsRest(t *testing.T) {
	srv := silentServer(t)
	sc := compile(t, &Config{
		Name:           "abort",
		AbortOnFailure: true,
		Steps: []*StepConfig{
			{Type: "expect", Match: &MatchCriteria{Type: "exact", Value: "never"}, Timeout: Duration(50 * time.Millisecond)},
			{Type: "send", Message: &MessagePayload{Type: "text", Value: "unreached"}},
			{Type: "wait", Duration: Duration(10 * time.Millisecond)},
		},
	})

	ex, err := NewExecutor(sc, dialSessions(t, srv, "main"), nil, nil)
	require.NoError(t, err)

	results, passed := ex.Run(context.Background())
	assert.False(t, passed)
	require.Len(t, results, 3)
	assert.Equal(t, StatusFail, results[0].Status)
	assert.Equal(t, StatusSkipped, results[1].Status)
	assert.Equal(t, StatusSkipped, results[2].Status)
}

func TestExecutor_ContinuesPastFailureByDefault(t *testing.T) {
	srv := silentServer(t)
	sc := compile(t, &Config{
		Name: "continue",
		Steps: []*StepConfig{
			{Type: "expect", Match: &MatchCriteria{Type: "exact", Value: "never"}, Timeout: Duration(50 * time.Millisecond)},
			{Type: "wait", Duration: Duration(10 * time.Millisecond)},
		},
	})

	ex, err := NewExecutor(sc, dialSessions(t, srv, "main"), nil, nil)
	require.NoError(t, err)

	results, passed := ex.Run(context.Background())
	assert.False(t, passed)
	require.Len(t, results, 2)
	assert.Equal(t, StatusPass, results[1].Status)
}

func TestExecutor_WaitPauses(t *testing.T) {
	srv := echoServer(t)
	sc := compile(t, &Config{
		Name: "pause",
		Steps: []*StepConfig{
			{Type: "wait", Duration: Duration(80 * time.Millisecond)},
		},
	})

	ex, err := NewExecutor(sc, dialSessions(t, srv, "main"), nil, nil)
	require.NoError(t, err)

	start := time.Now()
	results, passed := ex.Run(context.Background())
	assert.True(t, passed)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.GreaterOrEqual(t, results[0].Elapsed, 80*time.Millisecond)
}

func TestExecutor_ScenarioDeadline(t *testing.T) {
	srv := silentServer(t)
	sc := compile(t, &Config{
		Name:     "deadline",
		Deadline: Duration(100 * time.Millisecond),
		Steps: []*StepConfig{
			{Type: "expect", Match: &MatchCriteria{Type: "exact", Value: "never"}, Timeout: Duration(10 * time.Second)},
			{Type: "send", Message: &MessagePayload{Type: "text", Value: "late"}},
		},
	})

	ex, err := NewExecutor(sc, dialSessions(t, srv, "main"), nil, nil)
	require.NoError(t, err)

	results, passed := ex.Run(context.Background())
	assert.False(t, passed)
	require.Len(t, results, 2)
	assert.Equal(t, StatusFail, results[0].Status)
	assert.Equal(t, ReasonDeadline, results[0].Reason)
	assert.Equal(t, StatusSkipped, results[1].Status)
}

func TestExecutor_IndependentConnections(t *testing.T) {
	srv := echoServer(t)
	sc := compile(t, &Config{
		Name:        "parallel",
		Connections: []string{"alice", "bob"},
		Independent: true,
		Steps: []*StepConfig{
			{Type: "send", Connection: "alice", Message: &MessagePayload{Value: "from-alice"}},
			{Type: "send", Connection: "bob", Message: &MessagePayload{Value: "from-bob"}},
			{Type: "expect", Connection: "alice", Match: &MatchCriteria{Type: "exact", Value: "from-alice"}, Timeout: Duration(2 * time.Second)},
			{Type: "expect", Connection: "bob", Match: &MatchCriteria{Type: "exact", Value: "from-bob"}, Timeout: Duration(2 * time.Second)},
		},
	})

	ex, err := NewExecutor(sc, dialSessions(t, srv, "alice", "bob"), nil, nil)
	require.NoError(t, err)

	results, passed := ex.Run(context.Background())
	require.True(t, passed)
	assert.Len(t, results, 4)
}

func TestExecutor_IndependentIsolatesFailures(t *testing.T) {
	srv := silentServer(t)
	sc := compile(t, &Config{
		Name:        "isolated",
		Connections: []string{"alice", "bob"},
		Independent: true,
		Steps: []*StepConfig{
			{Type: "expect", Connection: "alice", Match: &MatchCriteria{Type: "exact", Value: "never"}, Timeout: Duration(50 * time.Millisecond)},
			{Type: "send", Connection: "bob", Message: &MessagePayload{Value: "independent"}},
		},
	})

	ex, err := NewExecutor(sc, dialSessions(t, srv, "alice", "bob"), nil, nil)
	require.NoError(t, err)

	results, passed := ex.Run(context.Background())
	assert.False(t, passed)
	require.Len(t, results, 2)

	byConn := make(map[string]StepResult)
	for _, r := range results {
		byConn[r.Connection] = r
	}
	assert.Equal(t, StatusFail, byConn["alice"].Status)
	assert.Equal(t, StatusPass, byConn["bob"].Status)
}

func TestExecutor_SendDelayHonored(t *testing.T) {
	srv := echoServer(t)
	sc := compile(t, &Config{
		Name: "delayed-send",
		Steps: []*StepConfig{
			{Type: "send", Message: &MessagePayload{Value: "late", Delay: Duration(80 * time.Millisecond)}},
			{Type: "expect", Match: &MatchCriteria{Type: "exact", Value: "late"}, Timeout: Duration(2 * time.Second)},
		},
	})

	ex, err := NewExecutor(sc, dialSessions(t, srv, "main"), nil, nil)
	require.NoError(t, err)

	start := time.Now()
	_, passed := ex.Run(context.Background())
	assert.True(t, passed)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestExecutor_SendOnClosedSessionFailsTransport(t *testing.T) {
	srv := echoServer(t)
	sessions := dialSessions(t, srv, "main")
	sessions["main"].Abort()

	sc := compile(t, &Config{
		Name: "dead-session",
		Steps: []*StepConfig{
			{Type: "send", Message: &MessagePayload{Value: "into the void"}},
		},
	})

	ex, err := NewExecutor(sc, sessions, nil, nil)
	require.NoError(t, err)

	results, passed := ex.Run(context.Background())
	assert.False(t, passed)
	assert.Equal(t, ReasonTransport, results[0].Reason)
}

func TestNewExecutor_MissingSession(t *testing.T) {
	sc := compile(t, &Config{
		Name:  "missing",
		Steps: []*StepConfig{{Type: "wait", Duration: Duration(time.Millisecond)}},
	})

	_, err := NewExecutor(sc, map[string]*session.Session{}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConnection)
}
