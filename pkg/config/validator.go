package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/getwscheck/wscheck/pkg/scenario"
)

// ErrValidation is the base error for suite validation failures.
var ErrValidation = errors.New("invalid suite")

// Validate walks the suite: every target must have a name and a ws/wss URL,
// names must be unique, every scenario must compile, and every scenario's
// target reference must resolve.
func (s *Suite) Validate() error {
	if len(s.Targets) == 0 {
		return fmt.Errorf("%w: at least one target is required", ErrValidation)
	}
	if len(s.Scenarios) == 0 {
		return fmt.Errorf("%w: at least one scenario is required", ErrValidation)
	}

	seen := make(map[string]bool, len(s.Targets))
	for i, target := range s.Targets {
		if err := target.validate(); err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
		if seen[target.Name] {
			return fmt.Errorf("%w: duplicate target name %q", ErrValidation, target.Name)
		}
		seen[target.Name] = true
	}

	for i, cfg := range s.Scenarios {
		compiled, err := scenario.New(cfg)
		if err != nil {
			return fmt.Errorf("scenario %d: %w", i, err)
		}
		// An empty target reference resolves to the first declared target.
		if ref := compiled.Target(); ref != "" && s.TargetByName(ref) == nil {
			return fmt.Errorf("%w: scenario %q references unknown target %q",
				ErrValidation, compiled.Name(), ref)
		}
	}

	return nil
}

func (t *Target) validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil target", ErrValidation)
	}
	if t.Name == "" {
		return fmt.Errorf("%w: target requires a name", ErrValidation)
	}
	if t.URL == "" {
		return fmt.Errorf("%w: target %q requires a url", ErrValidation, t.Name)
	}

	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("%w: target %q: %v", ErrValidation, t.Name, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: target %q: scheme must be ws or wss, got %q",
			ErrValidation, t.Name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: target %q: url has no host", ErrValidation, t.Name)
	}

	if t.Auth != nil && t.Auth.JWT != nil && t.Auth.JWT.Secret == "" {
		return fmt.Errorf("%w: target %q: jwt auth requires a secret", ErrValidation, t.Name)
	}

	return nil
}
