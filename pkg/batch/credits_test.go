package batch

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verimail/engine/pkg/cache"
)

func TestUsageCredits(t *testing.T) {
	mr := miniredis.RunT(t)
	store := cache.NewRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	credits := NewUsageCredits(store, 100)

	// Fresh owner, fits
	assert.NoError(t, credits.Check(ctx, "acct-1", 100))
	// Fresh owner, over in one request
	assert.Error(t, credits.Check(ctx, "acct-1", 101))

	require.NoError(t, mr.Set(cache.UsageKey("acct-1"), "60"))
	assert.NoError(t, credits.Check(ctx, "acct-1", 40))
	assert.Error(t, credits.Check(ctx, "acct-1", 41))

	// Unlimited checker and anonymous owner always pass
	assert.NoError(t, NewUsageCredits(store, 0).Check(ctx, "acct-1", 1_000_000))
	assert.NoError(t, credits.Check(ctx, "", 1_000_000))
}
