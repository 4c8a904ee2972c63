// Package logging provides structured logging configuration for wscheck.
//
// This package wraps log/slog to provide consistent logging across all
// wscheck components. It supports configurable log levels and output formats.
//
// # Usage
//
// Create a logger with desired configuration:
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelDebug,
//	    Format: logging.FormatText,
//	})
//
//	logger.Info("scenario started", "scenario", name)
//	logger.Error("handshake failed", "error", err)
//
// # Log Levels
//
// Four log levels are supported:
//   - Debug: per-frame wire traffic and step evaluation detail
//   - Info: run lifecycle and scenario outcomes
//   - Warn: recoverable conditions such as step timeouts
//   - Error: session and transport failures
//
// # Output Formats
//
//   - Text: Human-readable format for interactive runs
//   - JSON: Structured format for CI log aggregation
//
// # Integration
//
// Components should accept a *slog.Logger in their constructor or options.
// If no logger is provided, use logging.Nop() for a no-op logger.
package logging
