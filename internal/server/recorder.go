package server

import (
	"context"
	"time"

	"github.com/docmeter/docmeter/internal/instrumentation"
)

// pipelineRecorder forwards pipeline events to the server's metrics
// recorder. It reads the recorder through the ServerContext on every
// call so instrumentation can be attached after the context is built.
type pipelineRecorder struct {
	sc *ServerContext
}

func (r *pipelineRecorder) BalanceRejected(ctx context.Context, tool string) {
	if m := r.sc.Metrics(); m != nil {
		m.RecordBalanceRejection(ctx, tool)
	}
}

func (r *pipelineRecorder) BackendQuery(ctx context.Context, tool string, duration time.Duration, err error) {
	m := r.sc.Metrics()
	if m == nil {
		return
	}
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	m.RecordSearchBackendOperation(ctx, tool, status, duration)
}

func (r *pipelineRecorder) Redacted(ctx context.Context, category string) {
	if m := r.sc.Metrics(); m != nil {
		m.RecordRedaction(ctx, category)
	}
}

func (r *pipelineRecorder) Debit(ctx context.Context, result string) {
	if m := r.sc.Metrics(); m != nil {
		m.RecordLedgerDebit(ctx, result)
	}
}
