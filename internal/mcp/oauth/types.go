package oauth

// ProtectedResourceMetadata is the OAuth 2.0 Protected Resource
// Metadata document (RFC 9728) served under /.well-known.
type ProtectedResourceMetadata struct {
	// Resource is the identifier for the protected resource.
	Resource string `json:"resource"`

	// AuthorizationServers lists the authorization servers that can
	// issue tokens for this resource.
	AuthorizationServers []string `json:"authorization_servers"`

	// BearerMethodsSupported lists the ways Bearer tokens can be sent
	// (RFC 6750).
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`

	// ScopesSupported lists the scopes understood by this resource.
	ScopesSupported []string `json:"scopes_supported,omitempty"`
}

// UserInfo is the identity returned by the provider's userinfo
// endpoint. Sub is the stable opaque identifier used as the ledger
// account key.
type UserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture,omitempty"`
}

// AccountID returns the identifier the credit ledger is keyed on.
func (u *UserInfo) AccountID() string {
	return u.Sub
}

// ErrorResponse is an OAuth error response body (RFC 6749 §5.2).
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
