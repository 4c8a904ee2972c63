package scenario

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{"string form", `"1500ms"`, 1500 * time.Millisecond},
		{"seconds", `"2s"`, 2 * time.Second},
		{"bare integer is milliseconds", `250`, 250 * time.Millisecond},
		{"empty string", `""`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			require.NoError(t, json.Unmarshal([]byte(tt.in), &d))
			assert.Equal(t, tt.want, d.Duration())
		})
	}

	out, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))
}

func TestDuration_YAML(t *testing.T) {
	var cfg struct {
		Timeout Duration `yaml:"timeout"`
		Delay   Duration `yaml:"delay"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("timeout: 5s\ndelay: 100\n"), &cfg))
	assert.Equal(t, 5*time.Second, cfg.Timeout.Duration())
	assert.Equal(t, 100*time.Millisecond, cfg.Delay.Duration())
}

func TestMessagePayload_GetData(t *testing.T) {
	tests := []struct {
		name       string
		payload    MessagePayload
		wantData   string
		wantBinary bool
		wantErr    error
	}{
		{"text", MessagePayload{Type: "text", Value: "hello"}, "hello", false, nil},
		{"default type is text", MessagePayload{Value: "hello"}, "hello", false, nil},
		{"text non-string", MessagePayload{Type: "text", Value: 42}, "", false, ErrInvalidPayloadValue},
		{"json object", MessagePayload{Type: "json", Value: map[string]interface{}{"a": 1}}, `{"a":1}`, false, nil},
		{"binary", MessagePayload{Type: "binary", Value: "aGk="}, "hi", true, nil},
		{"binary bad base64", MessagePayload{Type: "binary", Value: "not-base64!"}, "", true, ErrInvalidPayloadValue},
		{"unknown type", MessagePayload{Type: "hex", Value: "ff"}, "", false, ErrUnknownPayloadType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, binary, err := tt.payload.GetData()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantData, string(data))
			assert.Equal(t, tt.wantBinary, binary)
		})
	}
}

func TestNew_CompilesValidScenario(t *testing.T) {
	sc, err := New(&Config{
		Name: "smoke",
		Steps: []*StepConfig{
			{Type: "send", Message: &MessagePayload{Type: "text", Value: "ping"}},
			{Type: "expect", Match: &MatchCriteria{Type: "exact", Value: "pong"}, Timeout: Duration(time.Second)},
			{Type: "wait", Duration: Duration(50 * time.Millisecond)},
			{Type: "close", Code: 1000, Reason: "done"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "smoke", sc.Name())
	assert.Equal(t, []string{"main"}, sc.Connections())
	require.Equal(t, 4, sc.StepCount())

	steps := sc.Steps()
	assert.Equal(t, StepSend, steps[0].Kind)
	assert.Equal(t, "main", steps[0].Connection)
	assert.Equal(t, time.Second, steps[1].Timeout())
	assert.Equal(t, DefaultStepTimeout, steps[3].Timeout())
}

func TestNew_ValidationErrors(t *testing.T) {
	send := &StepConfig{Type: "send", Message: &MessagePayload{Type: "text", Value: "x"}}

	tests := []struct {
		name    string
		cfg     *Config
		wantErr error
	}{
		{"nil config", nil, ErrInvalidStep},
		{"missing name", &Config{Steps: []*StepConfig{send}}, ErrInvalidStep},
		{"no steps", &Config{Name: "empty"}, ErrInvalidStep},
		{
			"unknown step type",
			&Config{Name: "s", Steps: []*StepConfig{{Type: "poke"}}},
			ErrInvalidStep,
		},
		{
			"send without message",
			&Config{Name: "s", Steps: []*StepConfig{{Type: "send"}}},
			ErrInvalidStep,
		},
		{
			"send with unusable payload",
			&Config{Name: "s", Steps: []*StepConfig{{Type: "send", Message: &MessagePayload{Type: "binary", Value: "!!"}}}},
			ErrInvalidPayloadValue,
		},
		{
			"expect with bad matcher",
			&Config{Name: "s", Steps: []*StepConfig{{Type: "expect", Match: &MatchCriteria{Type: "regex", Value: "("}}}},
			ErrInvalidMatcher,
		},
		{
			"wait without duration",
			&Config{Name: "s", Steps: []*StepConfig{{Type: "wait"}}},
			ErrInvalidStep,
		},
		{
			"close with reserved code",
			&Config{Name: "s", Steps: []*StepConfig{{Type: "close", Code: 1005}}},
			ErrInvalidStep,
		},
		{
			"undeclared connection",
			&Config{Name: "s", Connections: []string{"a"}, Steps: []*StepConfig{{Type: "wait", Connection: "b", Duration: Duration(time.Millisecond)}}},
			ErrUnknownConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNew_DefaultsCloseCode(t *testing.T) {
	sc, err := New(&Config{
		Name:  "close-default",
		Steps: []*StepConfig{{Type: "close"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1000, int(sc.Steps()[0].closeCode))
}

func TestNew_MultiConnection(t *testing.T) {
	sc, err := New(&Config{
		Name:        "pair",
		Connections: []string{"alice", "bob"},
		Independent: true,
		Steps: []*StepConfig{
			{Type: "send", Connection: "alice", Message: &MessagePayload{Value: "hi"}},
			{Type: "expect", Connection: "bob", Match: &MatchCriteria{Type: "exact", Value: "hi"}},
			{Type: "send", Message: &MessagePayload{Value: "again"}},
		},
	})
	require.NoError(t, err)

	assert.True(t, sc.Independent())
	steps := sc.Steps()
	assert.Equal(t, "alice", steps[0].Connection)
	assert.Equal(t, "bob", steps[1].Connection)
	// Unset connection resolves to the first declared one.
	assert.Equal(t, "alice", steps[2].Connection)
}

func TestConfig_UnmarshalYAML(t *testing.T) {
	doc := `
name: login-flow
abortOnFailure: true
deadline: 10s
steps:
  - type: send
    message:
      type: json
      value:
        action: login
        user: alice
  - type: expect
    match:
      type: json
      path: $.status
      value: ok
    timeout: 2s
  - type: close
    code: 1000
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(doc), &cfg))

	sc, err := New(&cfg)
	require.NoError(t, err)
	assert.True(t, sc.AbortOnFailure())
	assert.Equal(t, 10*time.Second, sc.Deadline())
	assert.Equal(t, 3, sc.StepCount())
}
