// Package server provides the MCP server context, session tracking,
// and OAuth-protected HTTP transport for the docmeter application.
//
// # Key Components
//
// ServerContext wires the shared dependencies of the server: the
// credit ledger (balance guard and debit executor), the search backend
// client, the priced-operation pipeline, and instrumentation.
//
// OAuthHTTPServer wraps an MCP server with OAuth 2.1 bearer-token
// authentication:
//   - Protected Resource Metadata (RFC 9728) for authorization server
//     discovery
//   - Token validation against the external provider's userinfo
//     endpoint
//   - Per-client rate limiting before token validation
//
// SessionTracker maps Bearer tokens to authenticated users, enabling
// multiple users to share a single MCP server instance and feeding the
// active-sessions gauge.
//
// # Security Features
//
// The HTTP transport includes security-focused defaults:
//   - HTTPS required for production (localhost exempt for development)
//   - Rate limiting per client IP
//   - No token issuance or storage beyond a short-lived validation
//     cache
package server
