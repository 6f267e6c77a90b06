package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipx/internal/catalog"
	"ipx/internal/verification/providers"
)

func TestSandboxProvider(t *testing.T) {
	d, ok := catalog.Default().Lookup(catalog.AssetKindle)
	require.True(t, ok)
	p := New(d)

	t.Run("verifies every reference with catalog metadata", func(t *testing.T) {
		ev, err := p.Verify(context.Background(), providers.Request{Reference: "B000TEST"})
		require.NoError(t, err)
		assert.Equal(t, providers.StatusVerified, ev.Status)
		assert.Equal(t, "Amazon KDP Book: B000TEST", ev.Title)
		assert.Equal(t, "Revenue share registration for Amazon KDP Book", ev.Description)
		assert.Equal(t, catalog.RouteKDP, ev.RoutingKey)
	})

	t.Run("latency respects cancellation", func(t *testing.T) {
		slow := New(d, WithLatency(time.Second))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := slow.Verify(ctx, providers.Request{Reference: "B000TEST"})
		assert.Equal(t, providers.ErrorTimeout, providers.GetCategory(err))
	})
}

func TestForCatalog_RegistersEveryRoutingKey(t *testing.T) {
	registry := providers.NewProviderRegistry()
	for _, p := range ForCatalog(catalog.Default()) {
		require.NoError(t, registry.Register(p))
	}
	for _, key := range catalog.Default().RoutingKeys() {
		_, ok := registry.Get(key)
		assert.True(t, ok, key)
	}
}
