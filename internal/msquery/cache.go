package msquery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/pcdslab/gicops/pkg/config"
	"github.com/pcdslab/gicops/pkg/metrics"
	pkgredis "github.com/pcdslab/gicops/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "gicops:qfmeta:"

// FileMeta is the cached pre-scan result for one query file.
type FileMeta struct {
	QACount  int `json:"qa_count"`
	NQChunks int `json:"nq_chunks"`
}

// MetaCache caches query-file pre-scan counts in Redis so repeated runs over
// large datasets skip the counting pass. A nil client degrades to scanning
// every file.
type MetaCache struct {
	client  *pkgredis.Client
	cfg     config.RedisConfig
	params  string
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewMetaCache creates a MetaCache over client, which may be nil. The cache
// key carries the acceptance parameters so a changed configuration never
// serves stale counts.
func NewMetaCache(client *pkgredis.Client, cfg config.RedisConfig, search config.SearchConfig, qchunk int, m *metrics.Metrics) *MetaCache {
	return &MetaCache{
		client:  client,
		cfg:     cfg,
		params:  fmt.Sprintf("%d|%g|%g|%d", search.Scale(), search.MinMass, search.MaxMass, qchunk),
		metrics: m,
		logger:  slog.Default().With("component", "qfmeta-cache"),
	}
}

// Lookup returns the cached FileMeta for path, or nil on a miss. The key
// incorporates file size and mtime so a rewritten file never serves stale
// counts.
func (c *MetaCache) Lookup(ctx context.Context, path string) *FileMeta {
	if c.client == nil {
		return nil
	}
	key, err := c.buildKey(path)
	if err != nil {
		return nil
	}
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Warn("metadata cache get failed", "key", key, "error", err)
		}
		c.metrics.CacheMissesTotal.Inc()
		return nil
	}
	var meta FileMeta
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		c.logger.Warn("metadata cache unmarshal failed", "key", key, "error", err)
		c.metrics.CacheMissesTotal.Inc()
		return nil
	}
	c.metrics.CacheHitsTotal.Inc()
	return &meta
}

// Store persists the pre-scan result for path.
func (c *MetaCache) Store(ctx context.Context, path string, meta FileMeta) {
	if c.client == nil {
		return
	}
	key, err := c.buildKey(path)
	if err != nil {
		return
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("metadata cache set failed", "key", key, "error", err)
	}
}

// InitQuery initializes q, consulting the cache first. Concurrent inits of
// the same path share one counting scan.
func (c *MetaCache) InitQuery(ctx context.Context, q *MSQuery) error {
	if meta := c.Lookup(ctx, q.Path()); meta != nil {
		return q.Init(meta)
	}
	type inited struct {
		q    *MSQuery
		meta FileMeta
	}
	v, err, _ := c.group.Do(q.Path(), func() (interface{}, error) {
		if err := q.Init(nil); err != nil {
			return nil, err
		}
		meta := FileMeta{QACount: q.QACount, NQChunks: q.NQChunks}
		c.Store(ctx, q.Path(), meta)
		return inited{q, meta}, nil
	})
	if err != nil {
		return err
	}
	if tok := v.(inited); tok.q != q {
		return q.Init(&tok.meta)
	}
	return nil
}

// Invalidate drops every cached pre-scan result. The reindex flag forces
// this so a rebuilt index never pairs with stale counts.
func (c *MetaCache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	deleted, err := c.client.FlushByPattern(ctx, cacheKeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating metadata cache: %w", err)
	}
	c.logger.Info("metadata cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *MetaCache) buildKey(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s|%d|%d|%s", cacheKeyPrefix, path, fi.Size(), fi.ModTime().UnixNano(), c.params), nil
}
