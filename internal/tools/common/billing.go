package common

import (
	"context"
	"sync"
)

type billingKey struct{}

// BillingInfo carries the billing outcome of a priced tool invocation
// from the handler back to the instrumentation wrapper.
type BillingInfo struct {
	mu       sync.Mutex
	actionID string
	credits  int64
}

func (b *BillingInfo) set(actionID string, credits int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actionID = actionID
	b.credits = credits
}

func (b *BillingInfo) get() (string, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.actionID, b.credits
}

// withBillingInfo injects a fresh BillingInfo for the wrapper to read
// after the handler returns.
func withBillingInfo(ctx context.Context) (context.Context, *BillingInfo) {
	info := &BillingInfo{}
	return context.WithValue(ctx, billingKey{}, info), info
}

// RecordBilling attaches the action ID and charged credits of a priced
// invocation to the request, so audit logs carry them. A no-op when
// the handler is not instrumented.
func RecordBilling(ctx context.Context, actionID string, credits int64) {
	if info, ok := ctx.Value(billingKey{}).(*BillingInfo); ok {
		info.set(actionID, credits)
	}
}
