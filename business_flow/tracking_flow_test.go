package businessflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/amirphl/Kakehashi/app/services"
	testutil "github.com/amirphl/Kakehashi/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapTrackingCache struct {
	mu      sync.Mutex
	entries map[string]services.TrackingBinding
	getErr  error
	gets    int
}

func newMapTrackingCache() *mapTrackingCache {
	return &mapTrackingCache{entries: make(map[string]services.TrackingBinding)}
}

func (c *mapTrackingCache) Get(_ context.Context, code string) (*services.TrackingBinding, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, c.getErr
	}
	if b, ok := c.entries[code]; ok {
		return &b, nil
	}
	return nil, nil
}

func (c *mapTrackingCache) Set(_ context.Context, code string, binding services.TrackingBinding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[code] = binding
	return nil
}

func TestTrackingFlowResolve(t *testing.T) {
	ctx := context.Background()
	mem := testutil.NewMemoryRepositories()
	fx := testutil.NewTestFixtures(mem.Repositories())

	offer, err := fx.CreateTestOffer(7, "https://shop.example/p/1")
	require.NoError(t, err)
	app, err := fx.CreateApprovedApplication(offer, 42, "Ab3xYz9QrT")
	require.NoError(t, err)

	t.Run("known code resolves to offer destination", func(t *testing.T) {
		flow := NewTrackingFlow(mem.Applications, mem.Offers, nil)
		target, err := flow.Resolve(ctx, "Ab3xYz9QrT")
		require.NoError(t, err)
		assert.Equal(t, app.ID, target.ApplicationID)
		assert.Equal(t, offer.ID, target.OfferID)
		assert.Equal(t, uint(42), target.CreatorID)
		assert.Equal(t, "https://shop.example/p/1", target.ProductURL)
	})

	t.Run("lookup is case sensitive", func(t *testing.T) {
		flow := NewTrackingFlow(mem.Applications, mem.Offers, nil)
		_, err := flow.Resolve(ctx, "ab3xyz9qrt")
		assert.True(t, IsTrackingCodeNotFound(err))
	})

	t.Run("empty and oversized codes are not found", func(t *testing.T) {
		flow := NewTrackingFlow(mem.Applications, mem.Offers, nil)
		_, err := flow.Resolve(ctx, "")
		assert.True(t, IsTrackingCodeNotFound(err))
		_, err = flow.Resolve(ctx, strings.Repeat("a", 65))
		assert.True(t, IsTrackingCodeNotFound(err))
	})

	t.Run("cache is filled on miss and served on hit", func(t *testing.T) {
		cache := newMapTrackingCache()
		flow := NewTrackingFlow(mem.Applications, mem.Offers, cache)

		_, err := flow.Resolve(ctx, "Ab3xYz9QrT")
		require.NoError(t, err)
		require.Contains(t, cache.entries, "Ab3xYz9QrT")

		assert.Equal(t, services.TrackingBinding{ApplicationID: app.ID, OfferID: offer.ID, CreatorID: 42}, cache.entries["Ab3xYz9QrT"])

		cache.entries["Ab3xYz9QrT"] = services.TrackingBinding{ApplicationID: app.ID, OfferID: offer.ID, CreatorID: 99}
		target, err := flow.Resolve(ctx, "Ab3xYz9QrT")
		require.NoError(t, err)
		assert.Equal(t, uint(99), target.CreatorID)
		assert.Equal(t, "https://shop.example/p/1", target.ProductURL)
	})

	t.Run("cached code still sees a deleted offer", func(t *testing.T) {
		goneOffer, err := fx.CreateTestOffer(9, "https://shop.example/p/9")
		require.NoError(t, err)
		_, err = fx.CreateApprovedApplication(goneOffer, 44, "Cached0001")
		require.NoError(t, err)

		cache := newMapTrackingCache()
		flow := NewTrackingFlow(mem.Applications, mem.Offers, cache)
		target, err := flow.Resolve(ctx, "Cached0001")
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example/p/9", target.ProductURL)
		require.Contains(t, cache.entries, "Cached0001")

		mem.Offers.Delete(goneOffer.ID)
		target, err = flow.Resolve(ctx, "Cached0001")
		require.Error(t, err)
		assert.Nil(t, target)
		assert.True(t, IsOfferMissing(err))
	})

	t.Run("cache failure falls back to the database", func(t *testing.T) {
		cache := newMapTrackingCache()
		cache.getErr = errors.New("redis down")
		flow := NewTrackingFlow(mem.Applications, mem.Offers, cache)

		target, err := flow.Resolve(ctx, "Ab3xYz9QrT")
		require.NoError(t, err)
		assert.Equal(t, "https://shop.example/p/1", target.ProductURL)
	})

	t.Run("missing offer is an error distinct from not found", func(t *testing.T) {
		orphanOffer, err := fx.CreateTestOffer(8, "https://gone.example")
		require.NoError(t, err)
		_, err = fx.CreateApprovedApplication(orphanOffer, 43, "Orphan0001")
		require.NoError(t, err)
		mem.Offers.Delete(orphanOffer.ID)

		flow := NewTrackingFlow(mem.Applications, mem.Offers, nil)
		_, err = flow.Resolve(ctx, "Orphan0001")
		require.Error(t, err)
		assert.True(t, IsOfferMissing(err))
		assert.False(t, IsTrackingCodeNotFound(err))
	})
}
