// Package search talks to the documentation retrieval backend.
//
// Querier is the interface the pipeline consumes; HTTPClient is the
// production implementation speaking JSON over HTTP. Backend failure
// modes that callers need to tell apart (tenant not provisioned, index
// still building) are exposed as sentinel errors; everything else comes
// back as a generic wrapped error.
package search
