package batch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/verimail/engine/pkg/cache"
)

// UsageCredits gates submissions on the owner's usage counter. The
// executor increments the same counter as addresses are processed, so
// the window self-renews with the counter TTL.
type UsageCredits struct {
	store     cache.Store
	allowance int64
}

// NewUsageCredits builds the checker. A non-positive allowance means
// unlimited.
func NewUsageCredits(store cache.Store, allowance int64) *UsageCredits {
	return &UsageCredits{store: store, allowance: allowance}
}

// Check refuses the batch when the owner's window cannot absorb n more
// addresses. An absent counter reads as zero usage.
func (c *UsageCredits) Check(ctx context.Context, owner string, n int) error {
	if c.allowance <= 0 || owner == "" {
		return nil
	}

	var used int64
	if raw, ok := c.store.Get(ctx, cache.UsageKey(owner)); ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			used = v
		}
	}
	if used+int64(n) > c.allowance {
		return fmt.Errorf("batch: owner %s over allowance: %d used + %d requested > %d",
			owner, used, n, c.allowance)
	}
	return nil
}
