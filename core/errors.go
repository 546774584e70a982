package core

import (
	"errors"
	"fmt"
	"strings"
)

// DuplicateNameError is returned when registering a script under a name that is taken.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("script with name %q already exists", e.Name)
}

// IllegalNameError is returned when registering a script under the reserved name.
type IllegalNameError struct {
	Name string
}

func (e *IllegalNameError) Error() string {
	return fmt.Sprintf("illegal script name provided: %q", e.Name)
}

// NotFoundError reports an unknown script, script handle, or capability.
type NotFoundError struct {
	Kind string // "script" or "capability"
	Name string
}

func (e *NotFoundError) Error() string {
	if e.Name == "" {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s %q does not exist", e.Kind, e.Name)
}

// ExpressionEvaluationError wraps a failure to compile or run an expression.
type ExpressionEvaluationError struct {
	Expression string
	Err        error
}

func (e *ExpressionEvaluationError) Error() string {
	return fmt.Sprintf("failed to evaluate expression %q: %v", e.Expression, e.Err)
}

func (e *ExpressionEvaluationError) Unwrap() error { return e.Err }

// ConditionEvaluationError records a failed condition tier.
type ConditionEvaluationError struct {
	Tier      int
	Predicate any
	Err       error
}

func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("condition tier %d failed for %v: %v", e.Tier, e.Predicate, e.Err)
}

func (e *ConditionEvaluationError) Unwrap() error { return e.Err }

// DispatchError wraps a provider failure. The dispatcher logs it and
// surfaces nil to the interpreter; it never propagates out of a run.
type DispatchError struct {
	Capability string
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("capability %s failed: %v", e.Capability, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// MissingParameterError is returned by constructors when required wiring is absent.
type MissingParameterError struct {
	Params []string
}

func (e *MissingParameterError) Error() string {
	return "not all required parameters provided: " + strings.Join(e.Params, ", ")
}

// IsNotFound reports whether err (or anything it wraps) is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
