package session

import (
	"errors"
	"fmt"

	"emberhall.gg/internal/protocol"
)

// CodedError pairs a wire error code with a human-readable message. Every
// client-facing failure in this package is one of these.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func Errf(code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the wire code for err, falling back to INTERNAL.
func CodeOf(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return protocol.ErrInternal
}

// MessageOf extracts just the human-readable part, so wire payloads do not
// repeat the code.
func MessageOf(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}
