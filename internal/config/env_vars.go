package config

import "time"

type EnvVars struct {
	AppName  string `env:"APP_NAME" env-default:"Idynic Auth" env-description:"application name shown in the CLI banner"`
	Env      string `env:"ENV" env-default:"DEV" env-description:"deployment environment"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info" validate:"oneof=trace debug info warn error" env-description:"zerolog level"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return "DEV"
	}
	return e.Env
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

type Identity struct {
	BaseURL      string        `env:"IDENTITY_BASE_URL" env-default:"http://localhost:8080" validate:"required,url" env-description:"base URL of the identity service"`
	Timeout      time.Duration `env:"IDENTITY_TIMEOUT" env-default:"10s" validate:"gt=0" env-description:"timeout for every identity service call"`
	RedirectURI  string        `env:"REDIRECT_URI" env-default:"http://127.0.0.1:8765/callback" validate:"required,url" env-description:"federated login redirect URI"`
	CallbackAddr string        `env:"CALLBACK_ADDR" env-default:"127.0.0.1:8765" validate:"required,hostname_port" env-description:"listen address of the loopback callback server"`
	OIDCIssuer   string        `env:"OIDC_ISSUER" validate:"omitempty,url" env-description:"issuer used to verify federated identity tokens, verification is off when empty"`
	OIDCClientID string        `env:"OIDC_CLIENT_ID" validate:"required_with=OIDCIssuer" env-description:"expected audience of federated identity tokens"`
}

var _ IdentityConfig = Identity{}

func (i Identity) GetIdentityBaseURL() string {
	return i.BaseURL
}

func (i Identity) GetIdentityTimeout() time.Duration {
	return i.Timeout
}

func (i Identity) GetRedirectURI() string {
	return i.RedirectURI
}

func (i Identity) GetCallbackAddr() string {
	return i.CallbackAddr
}

func (i Identity) GetOIDCIssuer() string {
	return i.OIDCIssuer
}

func (i Identity) GetOIDCClientID() string {
	return i.OIDCClientID
}
