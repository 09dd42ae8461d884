package protocol

const (
	// Transport/auth layer.
	ErrAuthRequired     = "AUTH_REQUIRED"
	ErrAuthInvalid      = "AUTH_INVALID"
	ErrMalformedMessage = "MALFORMED_MESSAGE"
	ErrRateLimited      = "RATE_LIMITED"

	// Session lifecycle.
	ErrNotFound         = "NOT_FOUND"
	ErrFull             = "FULL"
	ErrAlreadyStarted   = "ALREADY_STARTED"
	ErrNotReady         = "NOT_READY"
	ErrSessionEnded     = "SESSION_ENDED"
	ErrSessionNotActive = "SESSION_NOT_ACTIVE"
	ErrConfig           = "CONFIG"

	// Action layer.
	ErrNotYourTurn     = "NOT_YOUR_TURN"
	ErrInvalidAction   = "INVALID_ACTION"
	ErrNotDirector     = "NOT_DIRECTOR"
	ErrVersionMismatch = "VERSION_MISMATCH"

	ErrInternal = "INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrAuthRequired:     {},
	ErrAuthInvalid:      {},
	ErrMalformedMessage: {},
	ErrRateLimited:      {},
	ErrNotFound:         {},
	ErrFull:             {},
	ErrAlreadyStarted:   {},
	ErrNotReady:         {},
	ErrSessionEnded:     {},
	ErrSessionNotActive: {},
	ErrConfig:           {},
	ErrNotYourTurn:      {},
	ErrInvalidAction:    {},
	ErrNotDirector:      {},
	ErrVersionMismatch:  {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
