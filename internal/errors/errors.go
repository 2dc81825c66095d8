package errors

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the session core. Callers match them with Is.
var (
	// Credential exchange errors, surfaced unchanged to the UI
	ErrInvalidCredentials      = errors.New("invalid username or password")
	ErrAccountNotConfirmed     = errors.New("account not confirmed")
	ErrConfirmationCodeInvalid = errors.New("confirmation code invalid or expired")
	ErrDuplicateAccount        = errors.New("unable to create account")

	// Transient transport or remote failure
	ErrNetworkOrServer = errors.New("network or server error")

	// Session lifecycle errors
	ErrSessionExpired  = errors.New("session expired")
	ErrNoSession       = errors.New("no session")
	ErrRefreshRejected = errors.New("refresh token rejected")

	// Federated login errors
	ErrCSRFMismatch        = errors.New("federated login state mismatch")
	ErrUnsupportedProvider = errors.New("unsupported identity provider")
	ErrProviderDenied      = errors.New("identity provider denied the request")

	// General errors
	ErrInvalidRequest = errors.New("invalid request")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// UserFacing reports whether err is one of the kinds the UI renders with a specific message.
func UserFacing(err error) bool {
	for _, kind := range []error{
		ErrInvalidCredentials,
		ErrAccountNotConfirmed,
		ErrConfirmationCodeInvalid,
		ErrDuplicateAccount,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Terminal reports whether err ends the current attempt with no retry.
func Terminal(err error) bool {
	return errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrCSRFMismatch)
}
