package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
	// ErrProtocol marks a collaborator that reported success but returned
	// something unusable (missing bundle reference, missing output file).
	ErrProtocol = errors.New("protocol error")
	// ErrSecurity marks rejected input such as archive entries escaping
	// their destination.
	ErrSecurity = errors.New("security violation")
)

var markers = []error{
	ErrValidation,
	ErrConfiguration,
	ErrNotFound,
	ErrTimeout,
	ErrProtocol,
	ErrSecurity,
	ErrExternalTool,
	ErrTransient,
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return &wrappedError{
			marker:    marker,
			operation: strings.TrimSpace(operation),
			message:   strings.TrimSpace(message),
			err:       fmt.Errorf("%w: %s: %w", marker, detail, err),
		}
	}
	return &wrappedError{
		marker:    marker,
		operation: strings.TrimSpace(operation),
		message:   strings.TrimSpace(message),
		err:       fmt.Errorf("%w: %s", marker, detail),
	}
}

type wrappedError struct {
	marker    error
	operation string
	message   string
	err       error
}

func (e *wrappedError) Error() string { return e.err.Error() }

func (e *wrappedError) Unwrap() error { return e.err }

// ErrorDetails summarizes a wrapped error for logging and persisted state.
type ErrorDetails struct {
	Kind      string
	Operation string
	Message   string
	Cause     string
}

// Details extracts the outermost Wrap context from err. Errors that were not
// produced by Wrap report their full text as the message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: Kind(err)}
	var wrapped *wrappedError
	if errors.As(err, &wrapped) {
		details.Operation = wrapped.operation
		details.Message = wrapped.message
		details.Cause = causeText(wrapped.err)
	}
	if details.Message == "" {
		details.Message = strings.TrimSpace(err.Error())
	}
	return details
}

// Message returns the text recorded in a failed state record: the wrapped
// message followed by its root cause when one exists.
func Message(err error) string {
	if err == nil {
		return ""
	}
	details := Details(err)
	if details.Cause != "" && details.Cause != details.Message {
		return details.Message + ": " + details.Cause
	}
	return details.Message
}

// Kind names the first sentinel marker err carries, or "unknown".
func Kind(err error) string {
	for _, marker := range markers {
		if errors.Is(err, marker) {
			return marker.Error()
		}
	}
	return "unknown"
}

func causeText(err error) string {
	type multi interface{ Unwrap() []error }
	if m, ok := err.(multi); ok {
		errs := m.Unwrap()
		if len(errs) > 1 && errs[len(errs)-1] != nil {
			return strings.TrimSpace(errs[len(errs)-1].Error())
		}
	}
	return ""
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
