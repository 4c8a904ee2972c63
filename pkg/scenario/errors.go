package scenario

import "errors"

// Common errors for the scenario package.
var (
	// ErrInvalidPayloadValue indicates a send payload whose value does not
	// fit its declared type.
	ErrInvalidPayloadValue = errors.New("invalid payload value")
	// ErrUnknownPayloadType indicates an unknown send payload type.
	ErrUnknownPayloadType = errors.New("unknown payload type")
	// ErrInvalidMatcher indicates match criteria that cannot be compiled.
	ErrInvalidMatcher = errors.New("invalid matcher")
	// ErrInvalidStep indicates a step missing required fields or carrying an
	// unknown type.
	ErrInvalidStep = errors.New("invalid scenario step")
	// ErrUnknownConnection indicates a step targeting a connection the
	// scenario does not declare.
	ErrUnknownConnection = errors.New("unknown connection")
)
