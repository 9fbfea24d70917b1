// Package compose parses and validates the Docker Compose specifications
// that describe a deployable environment. All functions are pure: no I/O,
// no Docker calls.
package compose

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput  = errors.New("compose spec is empty")
	ErrInvalidYAML = errors.New("invalid YAML syntax")
	ErrNoServices  = errors.New("compose spec must define at least one service")

	ErrServiceNoImage     = errors.New("service must have image or build")
	ErrServiceInvalidPort = errors.New("invalid port configuration")
	ErrCircularDependency = errors.New("circular dependency detected")

	ErrUnsupportedFeature = errors.New("unsupported compose feature")
	ErrMissingVariable    = errors.New("undefined variable")
)

// ParseError carries the location of a parse or validation failure.
type ParseError struct {
	Field   string // e.g. "services.api.ports[0]"
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(field, message string, err error) *ParseError {
	return &ParseError{Field: field, Message: message, Err: err}
}
