// Package cache provides a Redis-backed read-through cache for upstream
// result pages.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-poi-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-poi-crawler/internal/poi"
)

const defaultTTL = 6 * time.Hour

// Config controls the page cache.
type Config struct {
	Prefix string
	TTL    time.Duration
}

// PageCache wraps a PageSearcher and remembers successful pages.
// Failed requests are never cached.
type PageCache struct {
	client redis.UniversalClient
	next   poi.PageSearcher
	cfg    Config
	logger *zap.Logger
}

// NewPageCache builds a PageCache in front of next.
func NewPageCache(client redis.UniversalClient, next poi.PageSearcher, cfg Config, logger *zap.Logger) (*PageCache, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if next == nil {
		return nil, errors.New("page searcher is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "poi:page"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageCache{client: client, next: next, cfg: cfg, logger: logger}, nil
}

// SearchPage serves the page from Redis when present, otherwise delegates
// and stores the result. Redis failures degrade to a plain upstream call.
func (c *PageCache) SearchPage(ctx context.Context, q poi.SearchQuery) (poi.Page, error) {
	key := c.key(q)
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var page poi.Page
		if uerr := json.Unmarshal(data, &page); uerr == nil {
			metrics.ObservePageCache("hit")
			return page, nil
		}
		c.logger.Warn("discarding corrupt cached page", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("page cache read failed", zap.String("key", key), zap.Error(err))
	}
	metrics.ObservePageCache("miss")

	page, err := c.next.SearchPage(ctx, q)
	if err != nil {
		return poi.Page{}, err
	}
	if payload, merr := json.Marshal(page); merr == nil {
		if serr := c.client.Set(ctx, key, payload, c.cfg.TTL).Err(); serr != nil {
			c.logger.Warn("page cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return page, nil
}

// Ping checks connectivity.
func (c *PageCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *PageCache) key(q poi.SearchQuery) string {
	size := q.PageSize
	if size < 1 {
		size = poi.DefaultPageSize
	}
	return strings.Join([]string{
		c.cfg.Prefix,
		q.Keyword,
		q.Region,
		strconv.Itoa(q.PageNum),
		strconv.Itoa(size),
	}, ":")
}
