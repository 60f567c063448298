package common

import (
	"context"

	"github.com/docmeter/docmeter/internal/mcp/oauth"
	"github.com/docmeter/docmeter/internal/server"
)

// UserID resolves the ledger account for a request.
//
// Priority order:
//  1. OAuth subject from context (set by the OAuth middleware)
//  2. The server's configured default user (stdio transport)
//
// An empty result means the request has no identity and priced tools
// must refuse it.
func UserID(ctx context.Context, sc *server.ServerContext) string {
	if user, ok := oauth.GetUserFromContext(ctx); ok && user.AccountID() != "" {
		return user.AccountID()
	}
	return sc.DefaultUser()
}

// UserEmail returns the authenticated user's email for audit logging,
// or empty when the request carries no OAuth identity.
func UserEmail(ctx context.Context) string {
	if user, ok := oauth.GetUserFromContext(ctx); ok {
		return user.Email
	}
	return ""
}
