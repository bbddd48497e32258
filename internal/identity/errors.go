package identity

import "fmt"

// ValidationError reports invalid input: a blank label, a malformed
// embedding, or a target that cannot receive identities.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError reports an unknown detection, person, proposal, or
// assignment ID.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// StateError reports an operation against an object in the wrong state:
// deciding a terminal proposal, re-classifying an identified detection,
// or merging a person into itself.
type StateError struct {
	Message string
}

func (e *StateError) Error() string {
	return e.Message
}

// ConcurrencyError reports an operation rejected because a conflicting
// one is already running, currently only a second rebuild pass.
type ConcurrencyError struct {
	Message string
}

func (e *ConcurrencyError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func stateErrorf(format string, args ...any) error {
	return &StateError{Message: fmt.Sprintf(format, args...)}
}

func notFound(resource string, id any) error {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}
