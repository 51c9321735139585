package push

import "errors"

var (
	// ErrPermissionDenied is logged when the user declines authorization.
	ErrPermissionDenied = errors.New("notification permission denied")
	// ErrRegistrationFailed wraps the platform's remote registration error.
	ErrRegistrationFailed = errors.New("remote notification registration failed")
	// ErrTokenNotFound is returned by a TokenStore with no saved token.
	ErrTokenNotFound = errors.New("token not found")
	// ErrUnknownEventKind is returned when a relayed callback has an unrecognised kind.
	ErrUnknownEventKind = errors.New("unknown platform event kind")
	// ErrTokenRejected is returned by a probe when the push service reports the
	// target token as invalid or unregistered.
	ErrTokenRejected = errors.New("push service rejected token")
)
