package ledger

import (
	"context"
	"errors"
	"fmt"
)

// BalanceCheck is the result of a pre-flight balance verification.
type BalanceCheck struct {
	Sufficient bool
	Balance    int64
}

// Guard performs side-effect-free balance checks against a Store. It is
// safe to call any number of times; nothing is reserved or mutated.
type Guard struct {
	store Store
}

// NewGuard creates a Guard reading from the given store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// CheckBalance reads the user's current balance and compares it against
// the required cost. A missing account reads as balance 0. Store read
// failures are reported as ErrUnavailable; callers must treat that as
// fatal for the current invocation and must not proceed to priced work.
func (g *Guard) CheckBalance(ctx context.Context, userID string, cost int64) (BalanceCheck, error) {
	balance, err := g.store.ReadBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return BalanceCheck{}, err
		}
		return BalanceCheck{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return BalanceCheck{
		Sufficient: balance >= cost,
		Balance:    balance,
	}, nil
}
