package commandbus

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHandlerNotFound means no handler was registered for the command name.
	ErrHandlerNotFound = errors.New("no handler registered for command")
	// ErrLockContention means the resource lock could not be acquired within
	// the configured wait. The caller may retry the whole command.
	ErrLockContention = errors.New("resource lock contention")
	// ErrConcurrencyConflict means an aggregate save hit a version mismatch.
	// The caller should retry the whole command.
	ErrConcurrencyConflict = errors.New("aggregate version conflict")
	// ErrDuplicateMessage means an idempotency record already exists for the
	// message id. Consumers treat it as successful processing, not a failure.
	ErrDuplicateMessage = errors.New("message already processed")
)

// FieldViolation is one failed validation rule on a command field.
type FieldViolation struct {
	Field string
	Rule  string
}

// ValidationError reports command validation failures. No transaction is
// opened before validation passes.
type ValidationError struct {
	Command    string
	Violations []FieldViolation
	cause      error
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		if e.cause != nil {
			return fmt.Sprintf("command %s invalid: %v", e.Command, e.cause)
		}
		return fmt.Sprintf("command %s invalid", e.Command)
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+" "+v.Rule)
	}
	return fmt.Sprintf("command %s invalid: %s", e.Command, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error { return e.cause }

// IsValidation reports whether err is a command validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
