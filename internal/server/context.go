package server

import (
	"context"
	"sync"

	"github.com/docmeter/docmeter/internal/instrumentation"
	"github.com/docmeter/docmeter/internal/ledger"
	"github.com/docmeter/docmeter/internal/pipeline"
	"github.com/docmeter/docmeter/internal/search"
)

// ServerContext holds the shared dependencies of the MCP server: the
// credit ledger, the search backend client, the priced-operation
// pipeline, and the instrumentation hooks.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	store    ledger.Store
	guard    *ledger.Guard
	executor *ledger.Executor
	querier  search.Querier
	runner   *pipeline.Runner

	metrics     *instrumentation.Metrics
	auditLogger *instrumentation.AuditLogger

	// defaultUser is the account used on the stdio transport, where no
	// OAuth middleware runs. Empty means unauthenticated.
	defaultUser string

	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a server context around the given ledger
// store and search backend. The pipeline runner is wired here so every
// tool shares one debit executor and balance guard.
func NewServerContext(ctx context.Context, store ledger.Store, querier search.Querier, opts ...ContextOption) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)

	sc := &ServerContext{
		ctx:      shutdownCtx,
		cancel:   cancel,
		store:    store,
		guard:    ledger.NewGuard(store),
		querier:  querier,
		shutdown: false,
	}
	for _, opt := range opts {
		opt(sc)
	}

	if sc.executor == nil {
		sc.executor = ledger.NewExecutor(store)
	}
	sc.runner = pipeline.NewRunner(sc.guard, sc.executor, sc.querier,
		pipeline.WithRecorder(&pipelineRecorder{sc: sc}))

	return sc
}

// ContextOption configures a ServerContext.
type ContextOption func(*ServerContext)

// WithExecutor replaces the default debit executor, mainly to tune the
// retry policy.
func WithExecutor(executor *ledger.Executor) ContextOption {
	return func(sc *ServerContext) { sc.executor = executor }
}

// WithDefaultUser sets the account used by the stdio transport.
func WithDefaultUser(userID string) ContextOption {
	return func(sc *ServerContext) { sc.defaultUser = userID }
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Store returns the ledger store.
func (sc *ServerContext) Store() ledger.Store {
	return sc.store
}

// Guard returns the balance guard.
func (sc *ServerContext) Guard() *ledger.Guard {
	return sc.guard
}

// Runner returns the priced-operation pipeline runner.
func (sc *ServerContext) Runner() *pipeline.Runner {
	return sc.runner
}

// Querier returns the search backend client.
func (sc *ServerContext) Querier() search.Querier {
	return sc.querier
}

// DefaultUser returns the stdio-transport account, or empty when the
// server requires OAuth identity.
func (sc *ServerContext) DefaultUser() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.defaultUser
}

// Metrics returns the metrics recorder, or nil when instrumentation is
// not configured.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.metrics
}

// SetMetrics sets the metrics recorder.
func (sc *ServerContext) SetMetrics(metrics *instrumentation.Metrics) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.metrics = metrics
}

// AuditLogger returns the audit logger, or nil when audit logging is
// not configured.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.auditLogger
}

// SetAuditLogger sets the audit logger.
func (sc *ServerContext) SetAuditLogger(auditLogger *instrumentation.AuditLogger) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.auditLogger = auditLogger
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
