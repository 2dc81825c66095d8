package server

import (
	"fmt"
	"html"
	"net/http"

	"github.com/rs/zerolog/log"

	autherrors "github.com/atriumn/idynic-web-sub000/internal/errors"
	"github.com/atriumn/idynic-web-sub000/oauthmodel"
)

const pageTemplate = `<!doctype html>
<html><head><meta charset="utf-8"><title>%[1]s</title></head>
<body><h1>%[1]s</h1><p>%[2]s</p></body></html>
`

// CallbackHandler receives the provider redirect. GET carries the parameters
// in the query, POST (form_post response mode) in the form body.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("provider")
		if name == "" {
			name = r.FormValue("provider")
		}
		// An unknown provider still reaches the completer so the pending
		// handshake is consumed.
		provider, err := oauthmodel.ParseProvider(name)
		if err != nil {
			provider = oauthmodel.Provider(name)
		}

		state := r.FormValue("state")
		code := r.FormValue("code")
		errorParam := r.FormValue("error")
		errorDesc := r.FormValue("error_description")

		if errorParam != "" {
			err := s.completer.FailFederated(r.Context(), provider, errorParam, errorDesc)
			writePage(w, http.StatusBadRequest, "Login cancelled", "The identity provider did not complete the login. You can close this window.")
			s.publish(Outcome{Provider: provider, Err: err})
			return
		}

		err = s.completer.CompleteFederated(r.Context(), provider, code, state)
		if err != nil {
			log.Warn().Err(err).Str("provider", provider.String()).Msg("federated login failed")
			status, msg := failurePage(err)
			writePage(w, status, "Login failed", msg)
			s.publish(Outcome{Provider: provider, Err: err})
			return
		}

		writePage(w, http.StatusOK, "Signed in", "You are signed in. You can close this window and return to the application.")
		s.publish(Outcome{Provider: provider})
	}
}

func failurePage(err error) (int, string) {
	switch {
	case autherrors.Is(err, autherrors.ErrCSRFMismatch):
		return http.StatusBadRequest, "This login could not be verified. Please start again."
	case autherrors.Is(err, autherrors.ErrUnsupportedProvider):
		return http.StatusBadRequest, "Unknown identity provider."
	case autherrors.Is(err, autherrors.ErrInvalidRequest):
		return http.StatusBadRequest, "The redirect is missing its code or state."
	case autherrors.Is(err, autherrors.ErrProviderDenied):
		return http.StatusBadRequest, "The identity provider refused the login."
	case autherrors.Is(err, autherrors.ErrNetworkOrServer):
		return http.StatusBadGateway, "The identity service is unavailable. Please try again."
	}
	return http.StatusInternalServerError, "Something went wrong. Please try again."
}

func writePage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, pageTemplate, html.EscapeString(title), html.EscapeString(message))
}
