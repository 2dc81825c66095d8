package oauthmodel

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the struct tags of any request body in this package.
func Validate(req any) error {
	return validate.Struct(req)
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type SignupRequest struct {
	Email      string            `json:"email" validate:"required,email"`
	Password   string            `json:"password" validate:"required"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type SignupResponse struct {
	UserID string `json:"user_id"`
}

type ConfirmSignupRequest struct {
	Username         string `json:"username" validate:"required"`
	ConfirmationCode string `json:"confirmation_code" validate:"required"`
}

type ConfirmSignupResponse struct {
	Success bool `json:"success"`
}

// ResendConfirmationRequest accepts either a username or an email.
type ResendConfirmationRequest struct {
	Username string `json:"username,omitempty" validate:"required_without=Email"`
	Email    string `json:"email,omitempty" validate:"required_without=Username"`
}

// CodeDelivery describes where a confirmation code was sent.
type CodeDelivery struct {
	Destination    string `json:"destination"`
	DeliveryMedium string `json:"delivery_medium"`
	AttributeName  string `json:"attribute_name"`
}

type RefreshRequest struct {
	GrantType    GrantType `json:"grant_type" validate:"required,eq=refresh_token"`
	RefreshToken string    `json:"refresh_token" validate:"required"`
}

type LogoutRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// MeResponse is returned by the current-user endpoint.
type MeResponse struct {
	Username   string            `json:"username"`
	Attributes map[string]string `json:"attributes"`
}

type FederatedInitiateRequest struct {
	Provider    Provider `json:"provider" validate:"required"`
	RedirectURI string   `json:"redirect_uri" validate:"required,url"`
	State       string   `json:"state" validate:"required"`
}

type FederatedInitiateResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state,omitempty"`
}

type FederatedCallbackRequest struct {
	Provider    Provider `json:"provider" validate:"required"`
	Code        string   `json:"code" validate:"required"`
	State       string   `json:"state" validate:"required"`
	RedirectURI string   `json:"redirect_uri" validate:"required,url"`
}

// ErrorResponse is the error body returned by the identity service.
type ErrorResponse struct {
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
