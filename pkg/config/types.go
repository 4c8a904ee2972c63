package config

import (
	"github.com/getwscheck/wscheck/pkg/scenario"
)

// Suite is a complete suite file: targets plus the scenarios to run against
// them.
type Suite struct {
	// Version is the suite format version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	// Name identifies the suite in logs and reports.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Targets are the endpoints scenarios connect to.
	Targets []*Target `json:"targets" yaml:"targets"`
	// Scenarios are the scenario definitions.
	Scenarios []*scenario.Config `json:"scenarios" yaml:"scenarios"`
}

// Target describes one endpoint and the connection settings for sessions
// opened against it.
type Target struct {
	// Name is the identifier scenarios reference via their target field.
	Name string `json:"name" yaml:"name"`
	// URL is the ws:// or wss:// endpoint.
	URL string `json:"url" yaml:"url"`
	// Headers are extra handshake request headers.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// Subprotocols are offered in the handshake.
	Subprotocols []string `json:"subprotocols,omitempty" yaml:"subprotocols,omitempty"`
	// Extensions are offered verbatim in Sec-WebSocket-Extensions.
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	// Auth configures handshake authentication.
	Auth *Auth `json:"auth,omitempty" yaml:"auth,omitempty"`
	// ConnectTimeout bounds dialing and the opening handshake.
	ConnectTimeout scenario.Duration `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"`
	// IdleTimeout closes a session when no traffic arrives in the window.
	IdleTimeout scenario.Duration `json:"idleTimeout,omitempty" yaml:"idleTimeout,omitempty"`
	// MaxMessageSize bounds a reassembled inbound message.
	MaxMessageSize int64 `json:"maxMessageSize,omitempty" yaml:"maxMessageSize,omitempty"`
	// FragmentSize splits outbound messages; zero sends single frames.
	FragmentSize int `json:"fragmentSize,omitempty" yaml:"fragmentSize,omitempty"`
	// InsecureSkipVerify disables TLS certificate verification for wss.
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// Auth holds handshake authentication settings.
type Auth struct {
	// JWT, when set, signs a bearer token into the handshake request.
	JWT *JWTConfig `json:"jwt,omitempty" yaml:"jwt,omitempty"`
}

// JWTConfig configures an HS256-signed bearer token attached to the
// handshake request.
type JWTConfig struct {
	// Secret is the HMAC signing secret.
	Secret string `json:"secret" yaml:"secret"`
	// Issuer, Subject, and Audience fill the registered claims.
	Issuer   string `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Subject  string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Audience string `json:"audience,omitempty" yaml:"audience,omitempty"`
	// TTL is the token lifetime. Zero means one hour.
	TTL scenario.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
	// Claims are extra private claims merged into the token.
	Claims map[string]interface{} `json:"claims,omitempty" yaml:"claims,omitempty"`
	// Header is the request header the token is written to.
	// Empty means Authorization with a Bearer prefix.
	Header string `json:"header,omitempty" yaml:"header,omitempty"`
}

// TargetByName returns the named target, or nil.
func (s *Suite) TargetByName(name string) *Target {
	for _, t := range s.Targets {
		if t.Name == name {
			return t
		}
	}
	return nil
}
