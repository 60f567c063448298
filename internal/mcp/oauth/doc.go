// Package oauth protects the HTTP MCP transport with Bearer-token
// authentication against an external OAuth 2.1 provider.
//
// The server never runs an authorization flow of its own: clients
// obtain tokens from the provider directly, and this package validates
// each request's token against the provider's userinfo endpoint, puts
// the resulting identity into the request context, and advertises the
// provider through RFC 9728 protected-resource metadata. Validated
// tokens are cached in a github.com/giantswarm/mcp-oauth storage
// backend so repeated requests do not hammer the provider.
//
// Downstream handlers resolve the caller with GetUserFromContext; the
// user's subject is the opaque account identifier the credit ledger is
// keyed on.
package oauth
