package scenario

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/ohler55/ojg/jp"

	"github.com/getwscheck/wscheck/pkg/frame"
	"github.com/getwscheck/wscheck/pkg/session"
)

// Matcher is a compiled message matcher for expect steps.
type Matcher struct {
	matchType string
	value     string
	path      jp.Expr
	program   *vm.Program
	regex     *regexp.Regexp
	// opcodeFilter is zero when the expectation observes data messages
	// (text and binary); otherwise it names one opcode, which may be a
	// control opcode.
	opcodeFilter frame.Opcode
	code         *int
	source       string
}

// NewMatcher compiles match criteria. A nil criteria yields a matcher that
// accepts the first data message.
func NewMatcher(c *MatchCriteria) (*Matcher, error) {
	if c == nil {
		return &Matcher{source: "any data message"}, nil
	}

	m := &Matcher{
		matchType: c.Type,
		value:     c.Value,
		code:      c.Code,
		source:    describeCriteria(c),
	}

	if c.Opcode != "" {
		op, err := frame.ParseOpcode(c.Opcode)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMatcher, err)
		}
		m.opcodeFilter = op
	}

	switch c.Type {
	case "", "exact", "contains", "prefix", "suffix":
	case "regex":
		r, err := regexp.Compile(c.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMatcher, err)
		}
		m.regex = r
	case "json":
		if c.Path == "" {
			return nil, fmt.Errorf("%w: json match requires a path", ErrInvalidMatcher)
		}
		p, err := jp.ParseString(c.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: bad jsonpath %q: %v", ErrInvalidMatcher, c.Path, err)
		}
		m.path = p
	case "expr":
		if c.Expr == "" {
			return nil, fmt.Errorf("%w: expr match requires an expression", ErrInvalidMatcher)
		}
		prog, err := expr.Compile(c.Expr, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("%w: bad expression %q: %v", ErrInvalidMatcher, c.Expr, err)
		}
		m.program = prog
	default:
		return nil, fmt.Errorf("%w: unknown match type %q", ErrInvalidMatcher, c.Type)
	}

	return m, nil
}

// Observes reports whether this expectation looks at the given inbound unit
// at all. Traffic it does not observe is skipped transparently; an
// unrelated ping never fails an expectation for a data message.
func (m *Matcher) Observes(in *session.Inbound) bool {
	if m.opcodeFilter == 0 {
		return in.Opcode.IsData()
	}
	return in.Opcode == m.opcodeFilter
}

// Match reports whether the inbound unit satisfies the criteria. Callers
// check Observes first.
func (m *Matcher) Match(in *session.Inbound) bool {
	if m.code != nil && int(in.Code) != *m.code {
		return false
	}

	switch m.matchType {
	case "":
		return true
	case "exact":
		return string(in.Payload) == m.value
	case "regex":
		return m.regex.Match(in.Payload)
	case "contains":
		return strings.Contains(string(in.Payload), m.value)
	case "prefix":
		return strings.HasPrefix(string(in.Payload), m.value)
	case "suffix":
		return strings.HasSuffix(string(in.Payload), m.value)
	case "json":
		return m.matchJSON(in.Payload)
	case "expr":
		return m.matchExpr(in)
	default:
		return false
	}
}

// String describes the expectation for step diagnostics.
func (m *Matcher) String() string {
	return m.source
}

// matchJSON evaluates the JSONPath against the payload and compares the
// first result to the expected value.
func (m *Matcher) matchJSON(payload []byte) bool {
	var data interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return false
	}
	results := m.path.Get(data)
	if len(results) == 0 {
		return false
	}
	return toString(results[0]) == m.value
}

// matchExpr runs the compiled predicate with the message in scope.
func (m *Matcher) matchExpr(in *session.Inbound) bool {
	env := map[string]interface{}{
		"text":   string(in.Payload),
		"opcode": in.Opcode.String(),
		"size":   len(in.Payload),
	}
	var parsed interface{}
	if err := json.Unmarshal(in.Payload, &parsed); err == nil {
		env["json"] = parsed
	} else {
		env["json"] = nil
	}

	out, err := expr.Run(m.program, env)
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

// toString converts a JSONPath result to its comparison form.
func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

func describeCriteria(c *MatchCriteria) string {
	var parts []string
	if c.Opcode != "" {
		parts = append(parts, c.Opcode)
	}
	switch c.Type {
	case "":
	case "json":
		parts = append(parts, fmt.Sprintf("json %s == %q", c.Path, c.Value))
	case "expr":
		parts = append(parts, fmt.Sprintf("expr %q", c.Expr))
	default:
		parts = append(parts, fmt.Sprintf("%s %q", c.Type, c.Value))
	}
	if c.Code != nil {
		parts = append(parts, fmt.Sprintf("code %d", *c.Code))
	}
	if len(parts) == 0 {
		return "any data message"
	}
	return strings.Join(parts, " ")
}
