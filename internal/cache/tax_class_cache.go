package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	taxdomain "github.com/smallbiznis/taxengine/internal/tax/domain"
	"go.uber.org/zap"
)

const (
	defaultTaxClassTTL = 5 * time.Minute
	keyTaxClass        = "taxengine:tax_class:%s:%s"
)

// TaxClassCache stores hot-path tax class lookups by org and code.
type TaxClassCache interface {
	Get(ctx context.Context, orgID, code string) (*taxdomain.TaxClass, bool)
	Set(ctx context.Context, orgID, code string, class *taxdomain.TaxClass)
	Invalidate(ctx context.Context, orgID, code string)
}

type taxClassCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewTaxClassCache returns nil when client is nil.
func NewTaxClassCache(client *redis.Client, log *zap.Logger) TaxClassCache {
	if client == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &taxClassCache{
		client: client,
		ttl:    defaultTaxClassTTL,
		log:    log.Named("cache.tax_class"),
	}
}

func (c *taxClassCache) Get(ctx context.Context, orgID, code string) (*taxdomain.TaxClass, bool) {
	raw, err := c.client.Get(ctx, cacheKey(orgID, code)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("tax class cache read failed", zap.String("code", code), zap.Error(err))
		}
		return nil, false
	}

	var class taxdomain.TaxClass
	if err := json.Unmarshal(raw, &class); err != nil {
		c.log.Warn("tax class cache entry corrupt", zap.String("code", code), zap.Error(err))
		c.Invalidate(ctx, orgID, code)
		return nil, false
	}
	return &class, true
}

func (c *taxClassCache) Set(ctx context.Context, orgID, code string, class *taxdomain.TaxClass) {
	if class == nil {
		return
	}
	raw, err := json.Marshal(class)
	if err != nil {
		c.log.Warn("tax class cache encode failed", zap.String("code", code), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cacheKey(orgID, code), raw, c.ttl).Err(); err != nil {
		c.log.Warn("tax class cache write failed", zap.String("code", code), zap.Error(err))
	}
}

func (c *taxClassCache) Invalidate(ctx context.Context, orgID, code string) {
	if err := c.client.Del(ctx, cacheKey(orgID, code)).Err(); err != nil {
		c.log.Warn("tax class cache invalidate failed", zap.String("code", code), zap.Error(err))
	}
}

func cacheKey(orgID, code string) string {
	return fmt.Sprintf(keyTaxClass, strings.TrimSpace(orgID), strings.TrimSpace(code))
}
