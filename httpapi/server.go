package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lakeward/ferry/logger"
	"github.com/lakeward/ferry/pool"
)

// Server exposes pool diagnostics and administration over HTTP
type Server struct {
	addr         string
	apiKey       string
	allowedHosts []string
	pool         *pool.Pool
	server       *http.Server
	tls          bool
	tlsCertFile  string
	tlsKeyFile   string
}

// ServerOptions holds configuration options for the HTTP API server
type ServerOptions struct {
	Addr         string
	APIKey       string
	AllowedHosts []string
	TLS          bool
	TLSCertFile  string
	TLSKeyFile   string
}

// New creates a new HTTP API server
func New(p *pool.Pool, options ServerOptions) (*Server, error) {
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for HTTP API server")
	}

	// Validate TLS configuration
	if options.TLS {
		if options.TLSCertFile == "" || options.TLSKeyFile == "" {
			return nil, fmt.Errorf("TLS certificate and key files are required when TLS is enabled")
		}
	}

	s := &Server{
		addr:         options.Addr,
		apiKey:       options.APIKey,
		allowedHosts: options.AllowedHosts,
		pool:         p,
		tls:          options.TLS,
		tlsCertFile:  options.TLSCertFile,
		tlsKeyFile:   options.TLSKeyFile,
	}

	return s, nil
}

// Start starts the HTTP API server
func Start(ctx context.Context, p *pool.Pool, options ServerOptions, errChan chan error) {
	server, err := New(p, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	protocol := "HTTP"
	if options.TLS {
		protocol = "HTTPS"
	}
	logger.Info("Starting API server", "protocol", protocol, "addr", options.Addr)
	if err := server.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

// start initializes and starts the HTTP server
func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down HTTP API server", "error", err)
		}
	}()

	// Start server with or without TLS
	if s.tls {
		return s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.server.ListenAndServe()
}

// setupRoutes configures all HTTP routes and middleware
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.allowedHostsMiddleware)

	// Probe and scrape endpoints carry no secrets and skip API key auth.
	router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API v1 routes
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/status/endpoints/{id}", s.handleEndpointStatus).Methods("GET")
	v1.HandleFunc("/endpoints/{id}/readmit", s.handleReadmit).Methods("POST")
	v1.HandleFunc("/reload", s.handleReload).Methods("POST")

	return router
}

// Middleware functions

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP API: request completed", "method", r.Method,
			"path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			// No restrictions, allow all hosts
			next.ServeHTTP(w, r)
			return
		}

		clientIP := getClientIP(r)

		allowed := false
		for _, allowedHost := range s.allowedHosts {
			if allowedHost == clientIP {
				allowed = true
				break
			}
			// Check CIDR blocks
			if strings.Contains(allowedHost, "/") {
				if _, cidr, err := net.ParseCIDR(allowedHost); err == nil {
					if ip := net.ParseIP(clientIP); ip != nil {
						if cidr.Contains(ip) {
							allowed = true
							break
						}
					}
				}
			}
		}

		if !allowed {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func getClientIP(r *http.Request) string {
	// Try X-Forwarded-For header first (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	// Try X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("HTTP API: error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// Request types

type ReloadRequest struct {
	Endpoints []pool.EndpointConfig `json:"endpoints"`
}

// Handler functions

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pool.Describe())
}

func (s *Server) handleEndpointStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	status, ok := s.pool.EndpointStatus(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleReadmit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if _, ok := s.pool.EndpointStatus(id); !ok {
		s.writeError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	if !s.pool.Readmit(id) {
		s.writeError(w, http.StatusConflict, "Endpoint is not ejected")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoint": id,
		"message":  "Endpoint re-admitted for warm-up",
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req ReloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if err := s.pool.Reload(req.Endpoints); err != nil {
		var cfgErr *pool.ConfigurationError
		if errors.As(err, &cfgErr) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error("HTTP API: error reloading endpoints", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to reload endpoints")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Endpoint registry reloaded",
		"endpoints": len(req.Endpoints),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.pool.Describe()

	available := 0
	for _, ep := range snap.Endpoints {
		if !ep.Removed && ep.State != "ejected" {
			available++
		}
	}

	status := http.StatusOK
	state := "ok"
	if available == 0 {
		status = http.StatusServiceUnavailable
		state = "unavailable"
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":              state,
		"available_endpoints": available,
		"outstanding_leases":  snap.OutstandingLeases,
	})
}
