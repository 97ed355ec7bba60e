package treemem

import (
	"errors"
	"fmt"

	"github.com/hupe1980/treemem/aggregator"
	"github.com/hupe1980/treemem/internal/descent"
	"github.com/hupe1980/treemem/internal/tree"
	"github.com/hupe1980/treemem/tensor"
)

var (
	// ErrConfiguration classifies invalid construction parameters.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrShape classifies inputs whose dimensions do not fit the memory.
	ErrShape = errors.New("shape mismatch")
	// ErrState classifies calls made in the wrong lifecycle state.
	ErrState = errors.New("invalid state")

	// ErrNotSetup is returned by Retrieve before Setup.
	ErrNotSetup = fmt.Errorf("%w: memory not set up", ErrState)
)

// ConfigurationError reports an invalid configuration field.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ConfigurationError struct {
	Field  string
	Reason string
	cause  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.cause }

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ShapeError reports an input whose dimensions do not fit.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ShapeError struct {
	Input  string
	Reason string
	cause  error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch: %s: %s", e.Input, e.Reason)
}

func (e *ShapeError) Unwrap() error { return e.cause }

// Is reports whether target is ErrShape.
func (e *ShapeError) Is(target error) bool { return target == ErrShape }

func configErr(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func shapeErr(input, format string, args ...any) error {
	return &ShapeError{Input: input, Reason: fmt.Sprintf(format, args...)}
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var ce *ConfigurationError
	var se *ShapeError
	if errors.As(err, &ce) || errors.As(err, &se) || errors.Is(err, ErrState) {
		return err
	}

	switch {
	case errors.Is(err, tree.ErrBranch):
		return &ConfigurationError{Field: "Branch", Reason: err.Error(), cause: err}
	case errors.Is(err, aggregator.ErrUnknownKind):
		return &ConfigurationError{Field: "Aggregator", Reason: err.Error(), cause: err}
	case errors.Is(err, tree.ErrEmptyItems):
		return &ShapeError{Input: "items", Reason: err.Error(), cause: err}
	case errors.Is(err, descent.ErrTooDeep):
		return &ShapeError{Input: "items", Reason: err.Error(), cause: err}
	case errors.Is(err, tensor.ErrShape):
		return &ShapeError{Input: "tensor", Reason: err.Error(), cause: err}
	}
	return err
}

// recoverShape turns tensor shape panics into a returned ShapeError. Other
// panics are re-raised.
func recoverShape(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(error); ok && errors.Is(e, tensor.ErrShape) {
		*err = translateError(e)
		return
	}
	panic(r)
}
