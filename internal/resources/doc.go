// Package resources provides MCP resources for exposing account data.
// Resources are read-only data sources that MCP clients can fetch, such as
// the caller's credit balance, per-tool costs and recent ledger history.
//
// Each resource resolves the ledger account from the request identity, so
// on HTTP transports every authenticated user sees their own data.
package resources
