package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/giantswarm/mcp-oauth/storage/memory"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/docmeter/docmeter/internal/instrumentation"
	"github.com/docmeter/docmeter/internal/logging"
	"github.com/docmeter/docmeter/internal/mcp/oauth"
)

// HTTPServerConfig configures the OAuth-protected HTTP transport.
type HTTPServerConfig struct {
	// BaseURL is the externally visible URL of this server, used as
	// the OAuth resource identifier (RFC 8707).
	BaseURL string

	// Issuer is the external authorization server clients obtain
	// tokens from.
	Issuer string

	// UserinfoURL overrides the provider userinfo endpoint. Default:
	// {Issuer}/userinfo.
	UserinfoURL string

	// Scopes advertised in the protected-resource metadata.
	Scopes []string

	// RateLimit is the per-client request rate (requests per second).
	RateLimit float64

	// RateBurst is the burst size for the rate limiter.
	RateBurst int

	// TrustProxy enables X-Forwarded-For as the client address.
	TrustProxy bool
}

// OAuthHTTPServer wraps an MCP server with OAuth 2.1 bearer-token
// authentication. It implements RFC 9728 Protected Resource Metadata
// so MCP clients can discover the authorization server.
type OAuthHTTPServer struct {
	mcpServer     *mcpserver.MCPServer
	oauthHandler  *oauth.Handler
	sessions      *SessionTracker
	healthChecker *HealthChecker
	metrics       *instrumentation.Metrics
	httpServer    *http.Server
	serverType    string // "sse" or "streamable-http"
	baseURL       string
}

// NewOAuthHTTPServer creates a new OAuth-enabled HTTP server for MCP
func NewOAuthHTTPServer(mcpServer *mcpserver.MCPServer, serverType string, config HTTPServerConfig) (*OAuthHTTPServer, error) {
	if config.Issuer == "" {
		return nil, fmt.Errorf("OAuth issuer is required for the HTTP transport")
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10 // requests per second per client
		config.RateBurst = 20
	}

	oauthHandler := oauth.NewHandler(oauth.Config{
		Resource:        config.BaseURL,
		Issuer:          config.Issuer,
		UserinfoURL:     config.UserinfoURL,
		SupportedScopes: config.Scopes,
		RateLimit:       config.RateLimit,
		RateBurst:       config.RateBurst,
		TrustProxy:      config.TrustProxy,
		Logger:          logging.NewSlogAdapter(slog.Default()),
	}, memory.New())

	return &OAuthHTTPServer{
		mcpServer:    mcpServer,
		oauthHandler: oauthHandler,
		sessions:     NewSessionTracker(),
		serverType:   serverType,
		baseURL:      config.BaseURL,
	}, nil
}

// SetHealthChecker attaches a health checker whose probe endpoints are
// registered alongside the MCP endpoints.
func (s *OAuthHTTPServer) SetHealthChecker(hc *HealthChecker) {
	s.healthChecker = hc
}

// SetMetrics attaches the metrics recorder used by the HTTP
// instrumentation middleware.
func (s *OAuthHTTPServer) SetMetrics(metrics *instrumentation.Metrics) {
	s.metrics = metrics
}

// Sessions returns the session tracker.
func (s *OAuthHTTPServer) Sessions() *SessionTracker {
	return s.sessions
}

// Start starts the OAuth-enabled HTTP server
func (s *OAuthHTTPServer) Start(addr string) error {
	// Validate HTTPS requirement for OAuth 2.1
	// Exception: localhost is allowed to use HTTP for development
	if err := validateHTTPSRequirement(s.baseURL); err != nil {
		return err
	}

	mux := http.NewServeMux()

	// Protected Resource Metadata endpoint (RFC 9728)
	// This tells MCP clients where to find the authorization server
	mux.Handle(oauth.MetadataPath, s.oauthHandler.ProtectedResourceMetadataHandler())

	if s.healthChecker != nil {
		s.healthChecker.RegisterHealthEndpoints(mux)
	}

	// Register MCP endpoints based on server type
	switch s.serverType {
	case "sse":
		sseServer := mcpserver.NewSSEServer(s.mcpServer,
			mcpserver.WithSSEEndpoint("/sse"),
			mcpserver.WithMessageEndpoint("/message"),
		)

		mux.Handle("/sse", s.protect(sseServer))
		mux.Handle("/message", s.protect(sseServer))

	case "streamable-http":
		httpServer := mcpserver.NewStreamableHTTPServer(s.mcpServer,
			mcpserver.WithEndpointPath("/mcp"),
		)

		mux.Handle("/mcp", s.protect(httpServer))

	default:
		return fmt.Errorf("unsupported server type: %s", s.serverType)
	}

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server
	return s.httpServer.ListenAndServe()
}

// protect wraps an MCP handler with token validation, session
// tracking, and HTTP instrumentation.
func (s *OAuthHTTPServer) protect(next http.Handler) http.Handler {
	tracked := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := oauth.GetUserFromContext(r.Context()); ok {
			if sessionID, err := s.sessions.ResolveSessionID(r); err == nil {
				s.sessions.Touch(sessionID, user.AccountID())
			}
		}
		next.ServeHTTP(w, r)
	})
	return s.instrumentationMiddleware(
		s.oauthInstrumentationWrapper(
			s.oauthHandler.ValidateToken(tracked)))
}

// responseWriter captures the status code written by a handler so the
// instrumentation middleware can label metrics with it.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// instrumentationMiddleware records request count and duration for
// every HTTP request. A no-op when metrics are not configured.
func (s *OAuthHTTPServer) instrumentationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// oauthInstrumentationWrapper records authentication outcomes, keyed
// on whether token validation let the request through.
func (s *OAuthHTTPServer) oauthInstrumentationWrapper(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		result := instrumentation.OAuthResultSuccess
		if rw.statusCode == http.StatusUnauthorized || rw.statusCode == http.StatusForbidden {
			result = instrumentation.OAuthResultFailure
		}
		s.metrics.RecordOAuthAuth(r.Context(), result)
	})
}

// Shutdown gracefully shuts down the server
func (s *OAuthHTTPServer) Shutdown(ctx context.Context) error {
	s.sessions.Stop()
	s.oauthHandler.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// GetOAuthHandler returns the OAuth handler for testing or direct access
func (s *OAuthHTTPServer) GetOAuthHandler() *oauth.Handler {
	return s.oauthHandler
}

// validateHTTPSRequirement ensures OAuth 2.1 HTTPS compliance
// Allows HTTP only for loopback addresses (localhost, 127.0.0.1, ::1)
func validateHTTPSRequirement(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	// Parse URL to properly validate scheme and host
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	// Allow HTTP only for loopback addresses
	if u.Scheme == "http" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return fmt.Errorf("OAuth 2.1 requires HTTPS for production (got: %s). Use HTTPS or localhost for development", baseURL)
		}
	} else if u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}

	return nil
}
