package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/docmeter/docmeter/internal/logging"
)

// contextKey is the type for context keys.
type contextKey string

const (
	userContextKey  contextKey = "oauth_user"
	tokenContextKey contextKey = "oauth_token"
)

// ValidateToken is middleware that authenticates every request with a
// Bearer token. The token is validated against the provider's userinfo
// endpoint; on success the resolved identity and token are stored in
// the request context and the token is cached in the token store.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow(r) {
			w.Header().Set("Retry-After", "1")
			h.writeError(w, http.StatusTooManyRequests, "slow_down", "Too many requests")
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(
				`Bearer realm=%q, resource_metadata=%q`,
				h.config.Resource, MetadataPath,
			))
			h.writeError(w, http.StatusUnauthorized, "missing_token", "Missing Authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(
				`Bearer realm=%q, resource_metadata=%q, error="invalid_token"`,
				h.config.Resource, MetadataPath,
			))
			h.writeError(w, http.StatusUnauthorized, "invalid_token", "Invalid Authorization header format")
			return
		}

		token := &oauth2.Token{AccessToken: parts[1], TokenType: "Bearer"}

		user, err := h.fetchUserInfo(r.Context(), token)
		if err != nil {
			h.logger.Warn("token validation failed", logging.Err(err))
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(
				`Bearer realm=%q, resource_metadata=%q, error="invalid_token"`,
				h.config.Resource, MetadataPath,
			))
			h.writeError(w, http.StatusUnauthorized, "invalid_token",
				"Token rejected by the authorization server. Re-authenticate through your MCP client.")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		ctx = context.WithValue(ctx, tokenContextKey, token)

		// Cache is best-effort; a store failure must not block the call.
		if err := h.tokens.SaveToken(ctx, user.Sub, token); err != nil {
			h.logger.Warn("failed to cache token",
				logging.UserHash(user.Sub), logging.Err(err))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// fetchUserInfo validates a token by calling the provider's userinfo
// endpoint.
func (h *Handler) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.config.UserinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var user UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	if user.Sub == "" {
		return nil, fmt.Errorf("userinfo response has no subject")
	}
	return &user, nil
}

// GetUserFromContext retrieves the authenticated user from the request
// context.
func GetUserFromContext(ctx context.Context) (*UserInfo, bool) {
	user, ok := ctx.Value(userContextKey).(*UserInfo)
	return user, ok
}

// GetTokenFromContext retrieves the validated provider token from the
// request context.
func GetTokenFromContext(ctx context.Context) (*oauth2.Token, bool) {
	token, ok := ctx.Value(tokenContextKey).(*oauth2.Token)
	return token, ok
}

// WithUser returns a context carrying the given user. Used by the
// stdio transport, where identity comes from configuration rather than
// a token, and by tests.
func WithUser(ctx context.Context, user *UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
