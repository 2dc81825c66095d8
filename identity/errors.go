package identity

import (
	"fmt"
	"net/http"
	"slices"

	autherrors "github.com/atriumn/idynic-web-sub000/internal/errors"
)

// APIError is a non-2xx answer from the identity service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity service returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("identity service returned %d: %s", e.Status, e.Message)
}

// Error codes from the identity service. Both the Cognito exception names and
// their snake_case forms are accepted.
var (
	invalidCredentialsCodes = []string{"NotAuthorizedException", "UserNotFoundException", "invalid_credentials", "invalid_grant"}
	notConfirmedCodes       = []string{"UserNotConfirmedException", "user_not_confirmed"}
	codeInvalidCodes        = []string{"CodeMismatchException", "ExpiredCodeException", "invalid_code", "expired_code"}
	duplicateCodes          = []string{"UsernameExistsException", "AliasExistsException", "user_exists"}
)

type operation int

const (
	opLogin operation = iota
	opSignup
	opConfirm
	opResend
	opRefresh
	opLogout
	opMe
	opFederated
)

// classify maps an APIError onto an error kind for op.
func classify(op operation, e *APIError) error {
	if e.Status >= http.StatusInternalServerError {
		return autherrors.ErrNetworkOrServer
	}

	switch op {
	case opLogin:
		switch {
		case slices.Contains(notConfirmedCodes, e.Code):
			return autherrors.ErrAccountNotConfirmed
		case slices.Contains(invalidCredentialsCodes, e.Code), e.Status == http.StatusUnauthorized:
			return autherrors.ErrInvalidCredentials
		}
	case opSignup:
		if slices.Contains(duplicateCodes, e.Code) || e.Status == http.StatusConflict {
			return autherrors.ErrDuplicateAccount
		}
	case opConfirm, opResend:
		if slices.Contains(codeInvalidCodes, e.Code) {
			return autherrors.ErrConfirmationCodeInvalid
		}
	case opRefresh:
		if e.Status == http.StatusBadRequest || e.Status == http.StatusUnauthorized {
			return autherrors.ErrRefreshRejected
		}
	case opMe, opLogout:
		if e.Status == http.StatusUnauthorized {
			return autherrors.ErrSessionExpired
		}
	case opFederated:
		if e.Status == http.StatusBadRequest || e.Status == http.StatusUnauthorized {
			return autherrors.ErrProviderDenied
		}
	}

	if e.Status == http.StatusTooManyRequests {
		return autherrors.ErrNetworkOrServer
	}
	return autherrors.ErrInvalidRequest
}
