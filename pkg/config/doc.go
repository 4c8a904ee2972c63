// Package config loads and validates suite files: the targets to connect to
// and the scenarios to run against them, in YAML or JSON.
package config
