// Package api serves the responder over HTTP.
package api

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pobradovic08/demo-app/internal/openapi"
	"github.com/pobradovic08/demo-app/internal/ratelimit"
	"github.com/pobradovic08/demo-app/internal/responder"
	"github.com/pobradovic08/demo-app/internal/tlsutil"
)

// Server is the public HTTP server.
type Server struct {
	httpServer *http.Server
	responder  *responder.Responder
	tls        bool
	startedAt  time.Time
}

// ServerDeps holds the dependencies injected into the public server.
type ServerDeps struct {
	Responder      *responder.Responder
	Metrics        *Metrics
	RateLimiter    *ratelimit.Limiter
	CertLoader     *tlsutil.CertificateLoader
	ClientCAs      *x509.CertPool
	AllowedOrigins []string
	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// NewServer creates the public server with its middleware stack.
func NewServer(deps ServerDeps) *Server {
	s := &Server{
		responder: deps.Responder,
		startedAt: time.Now(),
	}

	// Innermost first; the request ID wraps everything so every log line has it.
	var h http.Handler = ResponderHandler(deps.Responder)
	h = Recover(h)
	if deps.RateLimiter != nil {
		h = deps.RateLimiter.Middleware(h)
	}
	if deps.Metrics != nil {
		h = deps.Metrics.Middleware(deps.Responder, h)
	}
	h = CORS(deps.AllowedOrigins, h)
	h = Logger(h)
	h = RequestID(h)

	s.httpServer = &http.Server{
		Addr:         deps.ListenAddr,
		Handler:      h,
		ReadTimeout:  deps.ReadTimeout,
		WriteTimeout: deps.WriteTimeout,
		IdleTimeout:  deps.IdleTimeout,
	}
	if deps.CertLoader != nil {
		s.httpServer.TLSConfig = tlsutil.NewServerTLSConfig(deps.CertLoader, deps.ClientCAs)
		s.tls = true
	}

	return s
}

// Handler returns the full middleware stack.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("API listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	routes := make([]string, 0, len(s.responder.Routes()))
	for _, k := range s.responder.Routes() {
		routes = append(routes, k.String())
	}
	slog.Info("starting API server", "addr", lis.Addr().String(), "tls", s.tls, "routes", routes)

	var err error
	if s.tls {
		// Certificates come from TLSConfig.GetCertificate.
		err = s.httpServer.ServeTLS(lis, "", "")
	} else {
		err = s.httpServer.Serve(lis)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// UptimeSeconds returns the number of seconds since the server was created.
func (s *Server) UptimeSeconds() int {
	return int(time.Since(s.startedAt).Seconds())
}

// ResponderHandler adapts r to http.Handler. The request method and URL
// path are passed through untouched and the payload is written as JSON.
func ResponderHandler(r *responder.Responder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		resp := r.Handle(req.Method, req.URL.Path)
		if resp.StatusCode == http.StatusNotFound {
			slog.Debug("route not found",
				"method", req.Method,
				"path", req.URL.Path,
				"request_id", RequestIDFromContext(req.Context()),
			)
		}
		WriteJSON(w, resp.StatusCode, resp.Body)
	})
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response body", "error", err)
	}
}

// AdminServer serves operational endpoints on a separate listener.
type AdminServer struct {
	httpServer *http.Server
}

// NewAdminServer creates the admin server exposing /metrics and
// /openapi.yaml. It fails if the embedded API document does not validate.
func NewAdminServer(ctx context.Context, listenAddr string, metrics *Metrics) (*AdminServer, error) {
	if _, err := openapi.Load(ctx); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	mux.Handle("GET /openapi.yaml", openapi.Handler())

	return &AdminServer{
		httpServer: &http.Server{
			Addr:              listenAddr,
			Handler:           Recover(mux),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Handler returns the admin mux.
func (a *AdminServer) Handler() http.Handler {
	return a.httpServer.Handler
}

// Start begins listening for admin requests.
func (a *AdminServer) Start() error {
	slog.Info("starting admin server", "addr", a.httpServer.Addr)
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the admin server.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	slog.Info("shutting down admin server")
	return a.httpServer.Shutdown(ctx)
}
