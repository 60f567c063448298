package oauth

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-oauth/storage"

	"github.com/docmeter/docmeter/internal/logging"
)

const (
	// MetadataPath is where the RFC 9728 document is served.
	MetadataPath = "/.well-known/oauth-protected-resource"

	defaultUserinfoTimeout = 10 * time.Second
)

// Config holds the OAuth handler configuration.
type Config struct {
	// Resource is the base URL identifying this MCP server (RFC 8707).
	Resource string

	// Issuer is the base URL of the external authorization server.
	Issuer string

	// UserinfoURL is the provider endpoint tokens are validated
	// against. Default: {Issuer}/userinfo.
	UserinfoURL string

	// SupportedScopes are advertised in the resource metadata.
	SupportedScopes []string

	// RateLimit is the per-client request rate (requests per second,
	// 0 = unlimited) applied before token validation.
	RateLimit float64

	// RateBurst is the burst size for the rate limiter.
	RateBurst int

	// TrustProxy enables X-Forwarded-For / X-Real-IP as the client
	// address. Only set behind a trusted proxy.
	TrustProxy bool

	// Logger for structured logging (optional, defaults to the
	// application's slog-backed logger).
	Logger logging.Logger

	// HTTPClient used for userinfo calls (optional).
	HTTPClient *http.Client
}

// Handler validates Bearer tokens and serves the protected-resource
// metadata.
type Handler struct {
	config  Config
	tokens  storage.TokenStore
	limiter *clientLimiter
	client  *http.Client
	logger  logging.Logger
}

// NewHandler creates a Handler. tokens caches validated provider
// tokens keyed by user subject.
func NewHandler(config Config, tokens storage.TokenStore) *Handler {
	if config.UserinfoURL == "" {
		config.UserinfoURL = config.Issuer + "/userinfo"
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultUserinfoTimeout}
	}
	var limiter *clientLimiter
	if config.RateLimit > 0 {
		limiter = newClientLimiter(config.RateLimit, config.RateBurst, config.TrustProxy)
	}
	return &Handler{
		config:  config,
		tokens:  tokens,
		limiter: limiter,
		client:  client,
		logger:  logger,
	}
}

// Close releases background resources held by the handler, currently
// the rate limiter's eviction goroutine. Safe to call more than once.
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// ProtectedResourceMetadataHandler serves the RFC 9728 document that
// tells MCP clients which authorization server to talk to.
func (h *Handler) ProtectedResourceMetadataHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ProtectedResourceMetadata{
			Resource:               h.config.Resource,
			AuthorizationServers:   []string{h.config.Issuer},
			BearerMethodsSupported: []string{"header"},
			ScopesSupported:        h.config.SupportedScopes,
		})
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}
