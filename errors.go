package postman

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rbaliyan/postman/store"
)

// Sentinel errors for the postman package.
// Use errors.Is() to check for these errors.
//
// Errors that have a store-level counterpart wrap it, so
// errors.Is(err, postman.ErrNotFound) also matches store.ErrNotFound.
var (
	// ErrNotFound is returned when a message does not exist or is not
	// visible to the requesting user.
	ErrNotFound = fmt.Errorf("postman: %w", store.ErrNotFound)

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = fmt.Errorf("postman: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = fmt.Errorf("postman: %w", store.ErrAlreadyConnected)

	// ErrInvalidID is returned when an invalid ID is provided.
	ErrInvalidID = fmt.Errorf("postman: %w", store.ErrInvalidID)

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("postman: store is required")

	// ErrDirectoryRequired is returned when no user directory is configured.
	ErrDirectoryRequired = errors.New("postman: user directory is required")

	// ErrInvalidMessage is the parent of every validation failure.
	ErrInvalidMessage = errors.New("postman: invalid message")

	// ErrNothingChanged is returned when a bulk update matched no record on
	// either side.
	ErrNothingChanged = errors.New("postman: nothing changed")

	// ErrUnknownUser is returned when the acting user is not registered or
	// no longer active.
	ErrUnknownUser = errors.New("postman: unknown user")

	// ErrInvalidStatus is returned for an unknown moderation status.
	ErrInvalidStatus = errors.New("postman: invalid moderation status")
)

// Field names used in validation errors.
const (
	FieldRecipients = "recipients"
	FieldSubject    = "subject"
	FieldBody       = "body"
	FieldEmail      = "email"
)

// ValidationError reports invalid input, keyed by field.
// It unwraps to ErrInvalidMessage.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError returns an error with a single field message.
func NewValidationError(field, msg string) *ValidationError {
	e := &ValidationError{}
	e.Add(field, msg)
	return e
}

// Add records a message for field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Merge copies the messages of other into e.
func (e *ValidationError) Merge(other *ValidationError) {
	if other == nil {
		return
	}
	for field, msgs := range other.Fields {
		for _, msg := range msgs {
			e.Add(field, msg)
		}
	}
}

// Empty reports whether no message was recorded.
func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

// OrNil returns e, or nil when e holds no message.
func (e *ValidationError) OrNil() error {
	if e == nil || e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var sb strings.Builder
	sb.WriteString("postman: invalid message")
	for i, f := range fields {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s: %s", f, strings.Join(e.Fields[f], " "))
	}
	return sb.String()
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidMessage
}

// IsValidationError reports whether err is an input validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidMessage)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// wrapStoreError maps store sentinels onto the package's own.
func wrapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrInvalidID):
		return ErrNotFound
	case errors.Is(err, store.ErrNotConnected):
		return ErrNotConnected
	}
	return err
}
