package rate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/sokoni/internal/cache"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	l := NewMemoryLimiter(2, time.Minute)
	base := time.Date(2026, 1, 1, 10, 0, 10, 0, time.UTC)
	l.now = func() time.Time { return base }
	ctx := context.Background()

	r, err := l.Allow(ctx, "a@b.co")
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	assert.EqualValues(t, 1, r.Remaining)

	_, _ = l.Allow(ctx, " A@B.co ")
	r, err = l.Allow(ctx, "a@b.co")
	require.NoError(t, err)
	assert.False(t, r.Allowed, "keys are normalized")
	assert.Equal(t, 50*time.Second, r.RetryAfter)

	r, _ = l.Allow(ctx, "other@b.co")
	assert.True(t, r.Allowed)

	l.now = func() time.Time { return base.Add(time.Minute) }
	r, _ = l.Allow(ctx, "a@b.co")
	assert.True(t, r.Allowed, "new window")
}

func TestNew_PicksImplementation(t *testing.T) {
	mem := cache.NewMemory("t", time.Minute)
	assert.IsType(t, Nop{}, New(mem, "", 0, time.Minute))
	assert.IsType(t, &MemoryLimiter{}, New(mem, "", 5, time.Minute))
	assert.IsType(t, &MemoryLimiter{}, New(nil, "", 5, time.Minute))
}
