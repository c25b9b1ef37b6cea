package enrich

import (
	"errors"
	"fmt"
)

// BackendInvocationError wraps any failure to obtain text from the model backend:
// transport errors, non-success statuses, timeouts and empty responses.
type BackendInvocationError struct {
	Identifier any
	Backend    string
	Err        error
}

func (e *BackendInvocationError) Error() string {
	if e == nil || e.Err == nil {
		return "backend invocation failed"
	}
	return fmt.Sprintf("backend %s invocation failed for %s: %v", e.Backend, KeyString(e.Identifier), e.Err)
}

func (e *BackendInvocationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// OutputValidationError reports model output that does not satisfy the schema.
type OutputValidationError struct {
	Identifier any
	RawOutput  string
	// Field is the offending field, empty for whole-document problems.
	Field  string
	Reason string
}

func (e *OutputValidationError) Error() string {
	if e == nil {
		return "output validation failed"
	}
	if e.Field != "" {
		return fmt.Sprintf("output validation failed for %s: field %q: %s", KeyString(e.Identifier), e.Field, e.Reason)
	}
	return fmt.Sprintf("output validation failed for %s: %s", KeyString(e.Identifier), e.Reason)
}

// InvalidItemError reports an input item that was rejected before any backend call.
type InvalidItemError struct {
	Identifier any
	Reason     string
}

func (e *InvalidItemError) Error() string {
	if e == nil {
		return "invalid item"
	}
	return fmt.Sprintf("invalid item %q: %s", KeyString(e.Identifier), e.Reason)
}

// FailureFromError classifies err into a Failure for the item identified by key.
func FailureFromError(key any, err error) *Failure {
	f := &Failure{Identifier: key, Reason: err.Error(), Kind: FailureInternal, Err: err}

	var invalid *InvalidItemError
	var backend *BackendInvocationError
	var validation *OutputValidationError
	switch {
	case errors.As(err, &invalid):
		f.Kind = FailureInvalidItem
		f.Reason = invalid.Reason
	case errors.As(err, &validation):
		f.Kind = FailureValidation
		f.RawOutput = validation.RawOutput
		f.Reason = validation.Error()
	case errors.As(err, &backend):
		f.Kind = FailureBackend
	}
	return f
}

// StatusError is a non-success HTTP response reported by a model backend.
type StatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *StatusError) Error() string {
	if e == nil {
		return "backend status error"
	}
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
