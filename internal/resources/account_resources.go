package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/docmeter/docmeter/internal/server"
	"github.com/docmeter/docmeter/internal/tools/common"
	"github.com/docmeter/docmeter/internal/tools/search_tools"
)

// maxHistoryEntries bounds the ledger history resource so a long-lived
// account does not produce an unbounded payload.
const maxHistoryEntries = 50

// RegisterAccountResources registers the account resources on the MCP server.
// These expose the caller's credit balance, recent ledger history and the
// per-tool cost table as read-only data sources.
func RegisterAccountResources(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	balanceResource := mcp.NewResource(
		"account://balance",
		"Credit Balance",
		mcp.WithResourceDescription("Current credit balance and per-tool costs for the authenticated account"),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(balanceResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleBalanceResource(ctx, request, sc)
	})

	historyResource := mcp.NewResource(
		"account://history",
		"Ledger History",
		mcp.WithResourceDescription("Recent ledger entries for the authenticated account, newest first"),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(historyResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleHistoryResource(ctx, request, sc)
	})

	return nil
}

// handleBalanceResource returns the caller's balance and the cost table.
func handleBalanceResource(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	userID := common.UserID(ctx, sc)
	if userID == "" {
		return nil, fmt.Errorf("no user identity on this request")
	}

	balance, err := sc.Store().ReadBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	costs := make(map[string]int64, len(search_tools.PricedOperations))
	for _, op := range search_tools.PricedOperations {
		costs[op.Name] = op.Cost
	}

	balanceData := map[string]interface{}{
		"account": userID,
		"balance": balance,
		"costs":   costs,
	}

	jsonData, err := json.MarshalIndent(balanceData, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal balance data: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}

// handleHistoryResource returns the caller's recent ledger entries.
func handleHistoryResource(ctx context.Context, request mcp.ReadResourceRequest, sc *server.ServerContext) ([]mcp.ResourceContents, error) {
	userID := common.UserID(ctx, sc)
	if userID == "" {
		return nil, fmt.Errorf("no user identity on this request")
	}

	entries, err := sc.Store().Entries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger history: %w", err)
	}
	if len(entries) > maxHistoryEntries {
		entries = entries[:maxHistoryEntries]
	}

	historyData := map[string]interface{}{
		"account": userID,
		"entries": entries,
	}

	jsonData, err := json.MarshalIndent(historyData, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger history: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
