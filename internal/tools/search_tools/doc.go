// Package search_tools provides MCP (Model Context Protocol) tools for
// credit-metered documentation search.
//
// This package exposes the priced-operation pipeline through MCP tools
// that can be called by AI agents or other MCP clients:
//
// Priced operations (charged per successful invocation):
//   - docs_search: Broad-recall documentation search (3 credits)
//   - docs_find_examples: Precision search for code examples (2 credits)
//
// Free operations:
//   - account_balance: Current credit balance and the operation cost table
//
// Priced tools run the full metering pipeline: balance check, backend
// query, sanitization and redaction, then an idempotent debit. Callers
// are never charged for failed invocations.
package search_tools
