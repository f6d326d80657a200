package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/taxengine/internal/tax/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, TaxClassCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewTaxClassCache(client, zap.NewNop())
}

func TestNewTaxClassCacheNilClient(t *testing.T) {
	assert.Nil(t, NewTaxClassCache(nil, zap.NewNop()))
}

func TestTaxClassCacheRoundTrip(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "1", "DE_VAT")
	assert.False(t, ok)

	class := &taxdomain.TaxClass{
		ID:              42,
		OrgID:           1,
		Code:            "DE_VAT",
		Name:            "Germany",
		CombinationMode: taxdomain.CombinationCombine,
		Entries:         []taxdomain.TaxClassEntry{{Name: "MwSt", Percent: decimal.RequireFromString("19")}},
		IsEnabled:       true,
	}
	c.Set(ctx, "1", "DE_VAT", class)
	assert.True(t, mr.Exists("taxengine:tax_class:1:DE_VAT"))

	got, ok := c.Get(ctx, "1", "DE_VAT")
	require.True(t, ok)
	assert.Equal(t, class.ID, got.ID)
	assert.Equal(t, "Germany", got.Name)
	require.Len(t, got.Entries, 1)
	assert.True(t, got.Entries[0].Percent.Equal(decimal.NewFromInt(19)))

	c.Invalidate(ctx, "1", "DE_VAT")
	_, ok = c.Get(ctx, "1", "DE_VAT")
	assert.False(t, ok)
}

func TestTaxClassCacheExpires(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "1", "X", &taxdomain.TaxClass{Code: "X", Name: "X"})
	mr.FastForward(defaultTaxClassTTL + time.Second)

	_, ok := c.Get(ctx, "1", "X")
	assert.False(t, ok)
}

func TestTaxClassCacheDropsCorruptEntries(t *testing.T) {
	mr, c := newTestCache(t)
	require.NoError(t, mr.Set("taxengine:tax_class:1:X", "{not json"))

	_, ok := c.Get(context.Background(), "1", "X")
	assert.False(t, ok)
	assert.False(t, mr.Exists("taxengine:tax_class:1:X"))
}
