package search_tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/docmeter/docmeter/internal/instrumentation"
	"github.com/docmeter/docmeter/internal/ledger"
	"github.com/docmeter/docmeter/internal/pipeline"
	"github.com/docmeter/docmeter/internal/sanitize"
	"github.com/docmeter/docmeter/internal/search"
	"github.com/docmeter/docmeter/internal/server"
	"github.com/docmeter/docmeter/internal/tools/common"
)

// Operation profiles. docs_search favors broad recall, docs_find_examples
// favors precision for example-style queries.
var (
	DocsSearchOp = pipeline.Operation{
		Name: "docs_search",
		Cost: 3,
		Search: search.Options{
			ResultLimit:        8,
			RelevanceThreshold: 0.35,
			Rewrite:            true,
		},
	}

	FindExamplesOp = pipeline.Operation{
		Name: "docs_find_examples",
		Cost: 2,
		Search: search.Options{
			ResultLimit:        3,
			RelevanceThreshold: 0.7,
			Rewrite:            false,
		},
	}
)

// PricedOperations lists every operation with a per-invocation cost,
// used by account_balance to report the cost table.
var PricedOperations = []pipeline.Operation{DocsSearchOp, FindExamplesOp}

// RegisterSearchTools registers the documentation-search tools with the MCP server
func RegisterSearchTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	searchTool := mcp.NewTool(DocsSearchOp.Name,
		mcp.WithDescription(fmt.Sprintf("Search the documentation index and get a generated answer with sources. Costs %d credits per successful invocation.", DocsSearchOp.Cost)),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text question to answer from the documentation"),
		),
	)

	s.AddTool(searchTool, common.InstrumentedToolHandlerWithService(
		DocsSearchOp.Name, instrumentation.ServiceSearch, instrumentation.OperationQuery, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handlePricedQuery(ctx, request, sc, DocsSearchOp)
		}))

	examplesTool := mcp.NewTool(FindExamplesOp.Name,
		mcp.WithDescription(fmt.Sprintf("Find code examples in the documentation index. Tuned for precision over recall. Costs %d credits per successful invocation.", FindExamplesOp.Cost)),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Description of the example to find"),
		),
	)

	s.AddTool(examplesTool, common.InstrumentedToolHandlerWithService(
		FindExamplesOp.Name, instrumentation.ServiceSearch, instrumentation.OperationQuery, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handlePricedQuery(ctx, request, sc, FindExamplesOp)
		}))

	balanceTool := mcp.NewTool("account_balance",
		mcp.WithDescription("Get the current credit balance and the per-operation cost table. Free."),
	)

	s.AddTool(balanceTool, common.InstrumentedToolHandlerWithService(
		"account_balance", instrumentation.ServiceLedger, instrumentation.OperationBalance, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleBalance(ctx, sc)
		}))

	return nil
}

// searchResponse is the success payload of a priced tool.
type searchResponse struct {
	Answer         string                    `json:"answer"`
	Sources        []search.Source           `json:"sources,omitempty"`
	Security       pipeline.SecurityMetadata `json:"security"`
	ActionID       string                    `json:"actionId"`
	CreditsCharged int64                     `json:"creditsCharged"`
}

// balanceResponse is the payload of account_balance.
type balanceResponse struct {
	Balance int64            `json:"balance"`
	Costs   map[string]int64 `json:"costs"`
}

func handlePricedQuery(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext, op pipeline.Operation) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	userID := common.UserID(ctx, sc)
	if userID == "" {
		return mcp.NewToolResultError("Authentication required: no user identity on this request"), nil
	}

	out, err := sc.Runner().Run(ctx, pipeline.Request{
		UserID: userID,
		Query:  query,
		Op:     op,
	})
	if err != nil {
		return pricedErrorResult(err, op), nil
	}

	// Surface billing details to the audit log
	common.RecordBilling(ctx, out.ActionID, out.CreditsCharged)

	response := searchResponse{
		Answer:         out.Answer,
		Sources:        out.Sources,
		Security:       out.Security,
		ActionID:       out.ActionID,
		CreditsCharged: out.CreditsCharged,
	}

	jsonBytes, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to serialize result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// pricedErrorResult maps pipeline errors to user-facing tool errors.
// Validation failures never echo backend content; billing failures are
// kept distinct from content failures.
func pricedErrorResult(err error, op pipeline.Operation) *mcp.CallToolResult {
	var insufficient *pipeline.InsufficientBalanceError
	var billing *pipeline.BillingError

	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery):
		return mcp.NewToolResultError("query is required")

	case errors.Is(err, pipeline.ErrMissingIdentity):
		return mcp.NewToolResultError("Authentication required: no user identity on this request")

	case errors.As(err, &insufficient):
		return mcp.NewToolResultError(fmt.Sprintf(
			"Insufficient balance: %s costs %d credits but your balance is %d",
			op.Name, insufficient.Cost, insufficient.Balance))

	case errors.Is(err, ledger.ErrUnavailable):
		return mcp.NewToolResultError("The credit ledger is temporarily unavailable. Please retry. You have not been charged.")

	case errors.Is(err, search.ErrNotProvisioned):
		return mcp.NewToolResultError("No documentation index is provisioned for this server. You have not been charged.")

	case errors.Is(err, search.ErrIndexing):
		return mcp.NewToolResultError("The documentation index is still being built. Try again shortly. You have not been charged.")

	case errors.Is(err, sanitize.ErrOutputValidation):
		return mcp.NewToolResultError("The backend returned an unusable answer. You have not been charged.")

	case errors.As(err, &billing):
		return mcp.NewToolResultError("Billing failed after the answer was computed. The answer has been withheld and no credits were charged.")

	default:
		return mcp.NewToolResultError(fmt.Sprintf("Search failed: %v. You have not been charged.", err))
	}
}

func handleBalance(ctx context.Context, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	userID := common.UserID(ctx, sc)
	if userID == "" {
		return mcp.NewToolResultError("Authentication required: no user identity on this request"), nil
	}

	balance, err := sc.Store().ReadBalance(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError("The credit ledger is temporarily unavailable. Please retry."), nil
	}

	costs := make(map[string]int64, len(PricedOperations))
	for _, op := range PricedOperations {
		costs[op.Name] = op.Cost
	}

	jsonBytes, err := json.MarshalIndent(balanceResponse{
		Balance: balance,
		Costs:   costs,
	}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to serialize result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
