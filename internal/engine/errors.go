package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Callers branch with
// errors.Is; the HTTP layer maps them onto status codes.
var (
	// ErrNotFound is returned for unknown workflows, instances, steps or
	// templates.
	ErrNotFound = errors.New("not found")

	// ErrNotActive is returned when an action targets a terminal instance.
	ErrNotActive = errors.New("instance is not active")

	// ErrNoActiveStep indicates no in-progress step exists for an active
	// instance, which means the single-active-step invariant was violated
	// or the caller raced a terminal transition.
	ErrNoActiveStep = errors.New("no active step")

	// ErrActionNotAllowed is returned when the action type is not permitted
	// by the current step's configuration.
	ErrActionNotAllowed = errors.New("action not allowed")

	// ErrConflict is returned on optimistic-lock mismatch between
	// concurrent actions against the same instance.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrTemplateDecode is returned when template_data cannot be
	// deserialized into a workflow payload.
	ErrTemplateDecode = errors.New("template data is not decodable")

	// ErrNoDefaultWorkflow is returned when no active default workflow
	// exists for a workflow type.
	ErrNoDefaultWorkflow = errors.New("no default workflow for type")

	// ErrValidation is returned for structurally invalid definitions
	// (non-contiguous step order, missing fields, bad enum values).
	ErrValidation = errors.New("validation failed")
)

// WorkflowError wraps a sentinel with a human-readable detail so a caller
// can react precisely ("action not allowed in current step") instead of
// parsing messages.
type WorkflowError struct {
	Kind   error
	Detail string
}

func (e *WorkflowError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Detail)
}

func (e *WorkflowError) Unwrap() error { return e.Kind }

// Errorf builds a WorkflowError from a sentinel kind and a formatted detail
func Errorf(kind error, format string, args ...interface{}) error {
	return &WorkflowError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
