// Package httpapi exposes identity resolution over a small local HTTP interface.
package httpapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MatthewCalhoun/AutoTunez/internal/identity"
)

// Resolver answers identity queries.
type Resolver interface {
	ResolveByIdentityKey(ctx context.Context, key identity.Key) (identity.ResolvedIdentity, bool)
	SearchByDisplayName(ctx context.Context, text string) []identity.ResolvedIdentity
}

// Forgetter drops cached identities.
type Forgetter interface {
	Remove(key identity.Key) error
}

const (
	abbreviatePrefix = 6
	abbreviateSuffix = 4
	shutdownTimeout  = 5 * time.Second
)

// Config configures a Server. TLSAddr and CertDir are both needed for the HTTPS listener.
type Config struct {
	Addr         string
	TLSAddr      string
	CertDir      string
	CertHosts    []string
	CertValidity time.Duration
	IdentityKey  string
	Logger       *slog.Logger
}

// Server serves the identity API over HTTP and, optionally, HTTPS.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	resolver  Resolver
	forgetter Forgetter

	mu          sync.Mutex
	httpServer  *http.Server
	httpsServer *http.Server
}

// NewServer creates a Server. forgetter may be nil, in which case DELETE is unavailable.
func NewServer(cfg Config, resolver Resolver, forgetter Forgetter) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	return &Server{cfg: cfg, logger: logger, resolver: resolver, forgetter: forgetter}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         86400,
	}))
	r.Use(s.logOrigin)

	r.Get("/health", s.handleHealth)
	r.Route("/identities", func(r chi.Router) {
		r.Get("/", s.handleSearch)
		r.Get("/{identityKey}", s.handleResolve)
		r.Delete("/{identityKey}", s.handleForget)
	})
	return r
}

// Start starts the HTTP listener and, when configured, the HTTPS listener, then blocks
// until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	s.mu.Lock()
	s.httpServer = &http.Server{Addr: s.cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	httpServer := s.httpServer
	s.mu.Unlock()

	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		return err
	}
	go func() {
		s.logger.Info("HTTP server listening", "addr", "http://"+ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()

	if s.cfg.TLSAddr != "" && s.cfg.CertDir != "" {
		s.startTLS(handler)
	}

	<-ctx.Done()
	return nil
}

func (s *Server) startTLS(handler http.Handler) {
	certPEM, keyPEM, err := GenerateOrLoadSelfSignedCert(s.cfg.CertDir, s.cfg.certOptions())
	if err != nil {
		s.logger.Warn("Failed to generate SSL certificate, running HTTP only", "error", err)
		return
	}
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		s.logger.Warn("Failed to parse TLS certificate", "error", err)
		return
	}

	httpsServer := &http.Server{
		Addr:              s.cfg.TLSAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         &tls.Config{Certificates: []tls.Certificate{tlsCert}},
	}
	s.mu.Lock()
	s.httpsServer = httpsServer
	s.mu.Unlock()

	go func() {
		ln, err := net.Listen("tcp", httpsServer.Addr)
		if err != nil {
			s.logger.Error("HTTPS server failed to listen", "error", err)
			return
		}
		s.logger.Info("HTTPS server listening", "addr", "https://"+ln.Addr().String())
		if err := httpsServer.Serve(tls.NewListener(ln, httpsServer.TLSConfig)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTPS server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the listeners.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.mu.Lock()
	httpsServer, httpServer := s.httpsServer, s.httpServer
	s.mu.Unlock()

	if httpsServer != nil {
		if err := httpsServer.Shutdown(ctx); err != nil {
			s.logger.Error("HTTPS server shutdown error", "error", err)
		}
		s.logger.Info("HTTPS server stopped")
	}
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err)
		}
		s.logger.Info("HTTP server stopped")
	}
}

func (s *Server) logOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("Request", "method", r.Method, "path", r.URL.Path, "origin", parseOrigin(r),
			"requestID", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r)
	})
}

type resolveResponse struct {
	Found          bool                      `json:"found"`
	Identity       identity.ResolvedIdentity `json:"identity"`
	AbbreviatedKey string                    `json:"abbreviatedKey"`
}

type searchResponse struct {
	Results []identity.ResolvedIdentity `json:"results"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "identityKey": s.cfg.IdentityKey})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "identityKey"))
	if key == "" {
		s.writeError(w, http.StatusBadRequest, "identityKey is required")
		return
	}

	id, found := s.resolver.ResolveByIdentityKey(r.Context(), key)
	if !found {
		id = identity.Default(key)
	}
	s.writeJSON(w, http.StatusOK, resolveResponse{
		Found:          found,
		Identity:       id,
		AbbreviatedKey: identity.AbbreviateKey(key, abbreviatePrefix, abbreviateSuffix),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	results := s.resolver.SearchByDisplayName(r.Context(), r.URL.Query().Get("search"))
	if results == nil {
		results = []identity.ResolvedIdentity{}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	if s.forgetter == nil {
		s.writeError(w, http.StatusServiceUnavailable, "Cache not available")
		return
	}
	key := chi.URLParam(r, "identityKey")
	if err := s.forgetter.Remove(key); err != nil {
		s.logger.Error("Failed to remove cached identity", "identityKey", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to remove cached identity")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", "error", err)
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"message": message})
}

// parseOrigin extracts the host part of the Origin or Originator header.
func parseOrigin(r *http.Request) string {
	for _, raw := range []string{r.Header.Get("Origin"), r.Header.Get("Originator")} {
		if raw == "" {
			continue
		}
		if _, rest, ok := strings.Cut(raw, "://"); ok {
			return rest
		}
		return raw
	}
	return ""
}
