package cachesvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInmemCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewInmemCache()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "pending-groups", []byte(`[]`), time.Minute))
	require.NoError(t, c.Set(ctx, "user-groups:u1", []byte(`[1]`), 0))

	val, ok, err := c.Get(ctx, "pending-groups")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`[]`), val)

	t.Run("expiry", func(t *testing.T) {
		now = now.Add(time.Minute)
		_, ok, err := c.Get(ctx, "pending-groups")
		require.NoError(t, err)
		assert.False(t, ok)

		// no ttl never expires
		_, ok, _ = c.Get(ctx, "user-groups:u1")
		assert.True(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, c.Delete(ctx, "user-groups:u1", "missing"))
		_, ok, _ := c.Get(ctx, "user-groups:u1")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len())
	})
}
