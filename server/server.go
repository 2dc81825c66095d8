// Package server is the loopback HTTP server that receives federated login
// redirects and hands them to the session service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/atriumn/idynic-web-sub000/internal/config"
	"github.com/atriumn/idynic-web-sub000/oauthmodel"
)

const shutdownTimeout = 5 * time.Second

// Completer finishes federated logins. auth.SessionService satisfies it.
type Completer interface {
	CompleteFederated(ctx context.Context, provider oauthmodel.Provider, code, state string) error
	FailFederated(ctx context.Context, provider oauthmodel.Provider, code, description string) error
}

// Outcome is the result of one callback.
type Outcome struct {
	Provider oauthmodel.Provider
	Err      error
}

type Server struct {
	env       string
	mux       *http.ServeMux
	routes    []string
	completer Completer
	outcomes  chan Outcome
	gatherer  prometheus.Gatherer

	lock     sync.Mutex
	http     *http.Server
	listener net.Listener
}

type Option func(*Server)

// WithMetrics serves the registry on RouteMetrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func New(c config.EnvConfig, completer Completer, opts ...Option) (*Server, error) {
	if completer == nil {
		return nil, errors.New("[Server New] completer is required")
	}
	s := &Server{
		env:       c.GetEnv(),
		mux:       http.NewServeMux(),
		completer: completer,
		outcomes:  make(chan Outcome, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.StdMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.StdMiddleware()...)) // form_post response mode
	s.RegisterRouteHandler("GET "+RouteProviderCallback, ChainMiddleware(s.CallbackHandler(), s.StdMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteProviderCallback, ChainMiddleware(s.CallbackHandler(), s.StdMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteHealth, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if s.gatherer != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		method, path, ok := strings.Cut(route, " ")
		if !ok {
			method, path = "", route
		}
		log.Debug().Str("method", method).Str("path", path).Msg("route")
	}
}

// Outcomes delivers the result of each completed callback. A result nobody
// is waiting for is dropped.
func (s *Server) Outcomes() <-chan Outcome {
	return s.outcomes
}

func (s *Server) publish(o Outcome) {
	select {
	case s.outcomes <- o:
	default:
		log.Debug().Msg("callback outcome dropped, no receiver")
	}
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("[Server.Start] listen %s: %w", addr, err)
	}

	s.lock.Lock()
	s.listener = ln
	s.http = &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	srv := s.http
	s.lock.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("callback server listening")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Msg("callback server stopped")
		}
	}()
	return nil
}

// Addr is the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.lock.Lock()
	srv := s.http
	s.http = nil
	s.listener = nil
	s.lock.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("[Server.Shutdown] %w", err)
	}
	return nil
}
