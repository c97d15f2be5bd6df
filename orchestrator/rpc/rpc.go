// Package rpc serves the orchestrator and the local chain over Connect,
// using a JSON codec for plain Go request and response types.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/localnet"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var Logger zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	Logger = zerolog.New(out).With().Timestamp().Str("component", "rpc").Logger()
}

// SetLogger replaces the package logger.
func SetLogger(l zerolog.Logger) {
	Logger = l.With().Str("component", "rpc").Logger()
}

const requestTimeout = 60 * time.Second

// ServerConfig holds configuration for the RPC server
type ServerConfig struct {
	Address        string
	AllowedOrigins []string
	EnableMetrics  bool
	// EnableLocalnet exposes the faucet, relayer and mock knobs.
	EnableLocalnet        bool
	RatePerMinute         *int
	MaxConcurrentRequests *int
	OTelConfig            *OTelConfig
	// ChainBalances serves ChainBalance, nil leaves it unimplemented.
	ChainBalances BalanceSource
}

// DefaultServerConfig serves everything on localhost with 200 concurrent
// requests and no rate limit.
func DefaultServerConfig() *ServerConfig {
	maxConcurrentRequests := 200
	return &ServerConfig{
		Address:               "localhost:8080",
		AllowedOrigins:        []string{"http://localhost:3000", "http://localhost:8080"},
		EnableMetrics:         true,
		EnableLocalnet:        true,
		MaxConcurrentRequests: &maxConcurrentRequests,
		OTelConfig:            DefaultOTelConfig(),
	}
}

func (c *ServerConfig) servesMetrics() bool {
	return c.EnableMetrics || (c.OTelConfig != nil && c.OTelConfig.UsePrometheus)
}

func (c *ServerConfig) traces() bool {
	return c.OTelConfig != nil && c.OTelConfig.EnableTracing
}

// Server is the HTTP front of one deployment.
type Server struct {
	config       *ServerConfig
	httpServer   *http.Server
	otelShutdown func(context.Context) error
}

// NewServer builds the HTTP stack around a deployment. Telemetry that fails
// to start is logged and skipped.
func NewServer(ctx context.Context, config *ServerConfig, d *localnet.Deployment) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}
	if d == nil {
		return nil, errors.New("rpc: deployment is required")
	}

	s := &Server{config: config}
	if config.OTelConfig.enabled() {
		shutdown, err := NewOTelSDK(ctx, config.OTelConfig)
		if err != nil {
			Logger.Error().Err(err).Msg("Failed to initialize OpenTelemetry")
		} else {
			s.otelShutdown = shutdown
		}
	}

	mux := s.newMux(d)
	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           h2c.NewHandler(withCORS(config.AllowedOrigins, mux), &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) newMux(d *localnet.Deployment) *chi.Mux {
	mux := chi.NewMux()
	mux.Use(middleware.RequestID, middleware.RealIP, accessLog, panicGuard, middleware.NoCache)
	mux.Use(middleware.Timeout(requestTimeout))
	if rpm := s.config.RatePerMinute; rpm != nil && *rpm > 0 {
		mux.Use(httprate.LimitByIP(*rpm, time.Minute))
	}
	if n := s.config.MaxConcurrentRequests; n != nil && *n > 0 {
		mux.Use(middleware.Throttle(*n))
	}

	mux.Get("/server/health", health)
	mux.Get("/server/ready", ready(d))
	if s.config.servesMetrics() {
		mux.Handle("/server/metrics", promhttp.Handler())
	}

	opts := s.handlerOptions()
	registerOrchestrator(mux, NewOrchestratorServer(d, s.config.ChainBalances), opts...)
	if s.config.EnableLocalnet {
		registerLocalnet(mux, NewLocalnetServer(d), opts...)
	}
	return mux
}

func (s *Server) handlerOptions() []connect.HandlerOption {
	interceptors := []connect.Interceptor{callLog(), errorCodes()}
	if s.config.traces() {
		tracing, err := otelconnect.NewInterceptor()
		if err != nil {
			Logger.Warn().Err(err).Msg("Serving without the tracing interceptor")
		} else {
			interceptors = append(interceptors, tracing)
		}
	}
	return []connect.HandlerOption{
		Codec(),
		connect.WithRecover(recoverHandler),
		connect.WithInterceptors(interceptors...),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "wrap-and-send"})
}

// ready answers once the orchestrator's state can be read, and reports
// the saga phase alongside.
func ready(d *localnet.Deployment) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := d.Status(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ready",
			"phase":     st.Phase,
			"in_flight": st.InFlight,
			"height":    d.Chain.Height(),
		})
	}
}

func unary[Req, Res any](mux *chi.Mux, procedure string, fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error), opts ...connect.HandlerOption) {
	mux.Handle(procedure, connect.NewUnaryHandler(procedure, fn, opts...))
}

func registerOrchestrator(mux *chi.Mux, s *OrchestratorServer, opts ...connect.HandlerOption) {
	unary(mux, WrapAndSendProcedure, s.WrapAndSend, opts...)
	unary(mux, StatusProcedure, s.Status, opts...)
	unary(mux, ConfigProcedure, s.Config, opts...)
	unary(mux, InFlightTransfersProcedure, s.InFlightTransfers, opts...)
	unary(mux, DeploymentProcedure, s.Deployment, opts...)
	unary(mux, ChainBalanceProcedure, s.ChainBalance, opts...)
}

func registerLocalnet(mux *chi.Mux, s *LocalnetServer, opts ...connect.HandlerOption) {
	unary(mux, AccountProcedure, s.Account, opts...)
	unary(mux, FundProcedure, s.Fund, opts...)
	unary(mux, BalancesProcedure, s.Balances, opts...)
	unary(mux, PendingPacketsProcedure, s.PendingPackets, opts...)
	unary(mux, RelayProcedure, s.Relay, opts...)
	unary(mux, RouterProcedure, s.ConfigureRouter, opts...)
	unary(mux, CustodyProcedure, s.ConfigureCustody, opts...)
	unary(mux, UnwrapProcedure, s.Unwrap, opts...)
}

// Handler exposes the full HTTP stack, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.announce(l.Addr().String())
	if err := s.httpServer.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) announce(addr string) {
	routes := []string{"/" + OrchestratorServiceName + "/*"}
	if s.config.EnableLocalnet {
		routes = append(routes, "/"+LocalnetServiceName+"/*")
	}
	routes = append(routes, "/server/health", "/server/ready")
	if s.config.servesMetrics() {
		routes = append(routes, "/server/metrics")
	}
	Logger.Info().
		Str("address", addr).
		Strs("routes", routes).
		Bool("tracing", s.config.traces()).
		Msg("Wrap and send RPC server listening")
}

// Shutdown drains in-flight requests, then flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	Logger.Info().Msg("Shutting down RPC server")
	err := s.httpServer.Shutdown(ctx)
	if s.otelShutdown != nil {
		err = errors.Join(err, s.otelShutdown(ctx))
	}
	if err != nil {
		Logger.Error().Err(err).Msg("Unclean shutdown")
		return err
	}
	Logger.Info().Msg("Server shutdown complete")
	return nil
}

func recoverHandler(_ context.Context, spec connect.Spec, _ http.Header, p any) error {
	Logger.Error().
		Interface("panic", p).
		Str("procedure", spec.Procedure).
		Bytes("stack", debug.Stack()).
		Msg("Panic in RPC handler")
	return connect.NewError(connect.CodeInternal, errors.New("internal server error"))
}
