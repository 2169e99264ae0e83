package oracle

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RetryPolicy bounds receipt polling. Block time is roughly constant, so the
// spacing is fixed rather than exponential.
type RetryPolicy struct {
	// Attempts is the number of re-polls after the first lookup.
	Attempts int
	Interval time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 10, Interval: 2 * time.Second}

type ReceiptSource interface {
	GetReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// WaitForReceipt polls src until a receipt shows up or the policy runs out.
// A nil receipt with a nil error means the transaction is still unmined.
// The returned count is the number of lookups made.
func WaitForReceipt(ctx context.Context, src ReceiptSource, hash common.Hash, policy RetryPolicy) (*Receipt, int, error) {
	lookups := 0
	for {
		lookups++
		receipt, err := src.GetReceipt(ctx, hash)
		if err != nil {
			return nil, lookups, err
		}
		if receipt != nil {
			return receipt, lookups, nil
		}
		if lookups > policy.Attempts {
			return nil, lookups, nil
		}

		timer := time.NewTimer(policy.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lookups, ctx.Err()
		case <-timer.C:
		}
	}
}
