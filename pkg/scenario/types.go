package scenario

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that marshals/unmarshals as a string
// ("500ms", "2s") in both JSON and YAML. A bare integer is read as
// milliseconds.
type Duration time.Duration

// MarshalJSON marshals the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON unmarshals a duration string or integer milliseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var ms int64
		if err := json.Unmarshal(data, &ms); err != nil {
			return err
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	return d.parse(s)
}

// MarshalYAML marshals the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML unmarshals a duration string or integer milliseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		var ms int64
		if err := node.Decode(&ms); err != nil {
			return err
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MessagePayload defines a message body for a send step.
type MessagePayload struct {
	// Type is the payload type: "text", "binary", or "json".
	Type string `json:"type" yaml:"type"`
	// Value is the payload content.
	// For "text": string
	// For "binary": base64-encoded string
	// For "json": object that will be marshaled
	Value interface{} `json:"value" yaml:"value"`
	// Delay is the wait time before sending (optional).
	Delay Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
}

// GetData returns the payload bytes and whether they form a binary message.
func (m *MessagePayload) GetData() ([]byte, bool, error) {
	switch m.Type {
	case "text", "":
		s, ok := m.Value.(string)
		if !ok {
			return nil, false, ErrInvalidPayloadValue
		}
		return []byte(s), false, nil
	case "json":
		data, err := json.Marshal(m.Value)
		if err != nil {
			return nil, false, err
		}
		return data, false, nil
	case "binary":
		s, ok := m.Value.(string)
		if !ok {
			return nil, true, ErrInvalidPayloadValue
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, true, ErrInvalidPayloadValue
		}
		return decoded, true, nil
	default:
		return nil, false, ErrUnknownPayloadType
	}
}

// MatchCriteria defines how an expect step matches inbound traffic.
type MatchCriteria struct {
	// Type is the match type: "exact", "regex", "json", "expr", "contains",
	// "prefix", "suffix". Empty matches anything passing the opcode filter.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	// Value is the comparison value for exact/regex/contains/prefix/suffix,
	// and the expected value at Path for json.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	// Path is the JSONPath expression for the json type (e.g. "$.action").
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Expr is a boolean expression for the expr type, evaluated with
	// "text", "json", "opcode", and "size" in scope.
	Expr string `json:"expr,omitempty" yaml:"expr,omitempty"`
	// Opcode restricts what the expectation observes: "text", "binary",
	// "ping", "pong", or "close". Empty observes data messages only.
	Opcode string `json:"opcode,omitempty" yaml:"opcode,omitempty"`
	// Code is the expected close code for close expectations.
	Code *int `json:"code,omitempty" yaml:"code,omitempty"`
}

// StepConfig defines a single scenario step. Exactly the fields for the
// step's type apply; the rest must be empty.
type StepConfig struct {
	// Type is the step type: "send", "expect", "wait", "close".
	Type string `json:"type" yaml:"type"`
	// Connection names the target connection for multi-connection
	// scenarios. Empty targets the scenario's first connection.
	Connection string `json:"connection,omitempty" yaml:"connection,omitempty"`
	// Message is the payload to send (for "send").
	Message *MessagePayload `json:"message,omitempty" yaml:"message,omitempty"`
	// Match is the expected traffic pattern (for "expect").
	Match *MatchCriteria `json:"match,omitempty" yaml:"match,omitempty"`
	// Duration is the pause length (for "wait").
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	// Timeout bounds "expect" and "close" steps (default 30s).
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Code is the close status code (for "close", default 1000).
	Code int `json:"code,omitempty" yaml:"code,omitempty"`
	// Reason is the close reason (for "close").
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
	// Optional marks an expect step that may time out without failing.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Config defines a scenario: an immutable, ordered step list executed
// against one or more connections.
type Config struct {
	// Name identifies the scenario in the report.
	Name string `json:"name" yaml:"name"`
	// Target names the suite target this scenario runs against.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
	// Connections declares the connection names for multi-connection
	// scenarios. Empty means one implicit connection named "main".
	Connections []string `json:"connections,omitempty" yaml:"connections,omitempty"`
	// Independent lets steps targeting different connections run
	// concurrently, preserving per-connection order.
	Independent bool `json:"independent,omitempty" yaml:"independent,omitempty"`
	// AbortOnFailure stops executing after the first failing step.
	AbortOnFailure bool `json:"abortOnFailure,omitempty" yaml:"abortOnFailure,omitempty"`
	// FailFast aborts the whole scenario when any of its sessions closes
	// abnormally. Default is to keep running the remaining connections.
	FailFast bool `json:"failFast,omitempty" yaml:"failFast,omitempty"`
	// Deadline bounds the whole scenario. Zero means no scenario deadline.
	Deadline Duration `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	// Steps is the ordered step list.
	Steps []*StepConfig `json:"steps" yaml:"steps"`
}
