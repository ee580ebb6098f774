package storage

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"tasklog-api/domain"
)

const (
	listGenerationKey = "tasks:list:gen"
	listKeyPrefix     = "tasks:list:"
)

type taskService interface {
	Create(ctx context.Context, in domain.TaskInput, callerID int64) (*domain.Task, error)
	FindAll(ctx context.Context, q domain.ListQuery, callerID int64) (domain.Page, error)
	FindOne(ctx context.Context, id, callerID int64) (*domain.Task, error)
	Update(ctx context.Context, id int64, patch domain.TaskPatch, callerID int64) (*domain.Task, error)
	Remove(ctx context.Context, id, callerID int64) (domain.DeleteResult, error)
}

// Cache wraps the task service with a Redis-backed cache for list pages.
// Every successful mutation bumps a generation counter, which retires all
// cached pages at once since any task may appear in any caller's listing.
type Cache struct {
	base   taskService
	redis  *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or zero TTL disables caching.
func NewCache(base taskService, client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if base == nil {
		panic("storage.NewCache: base service is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{base: base, redis: client, ttl: ttl, logger: logger}
}

func (c *Cache) FindAll(ctx context.Context, q domain.ListQuery, callerID int64) (domain.Page, error) {
	q = domain.NormalizeListQuery(q)
	if callerID < 0 {
		callerID = 0
	}

	key, ok := c.pageKey(ctx, q, callerID)
	if ok {
		if page, hit := c.loadPage(ctx, key); hit {
			return page, nil
		}
	}

	page, err := c.base.FindAll(ctx, q, callerID)
	if err != nil {
		return domain.Page{}, err
	}
	if ok {
		c.storePage(ctx, key, page)
	}
	return page, nil
}

func (c *Cache) FindOne(ctx context.Context, id, callerID int64) (*domain.Task, error) {
	return c.base.FindOne(ctx, id, callerID)
}

func (c *Cache) Create(ctx context.Context, in domain.TaskInput, callerID int64) (*domain.Task, error) {
	t, err := c.base.Create(ctx, in, callerID)
	if err != nil {
		return nil, err
	}
	c.evict(ctx)
	return t, nil
}

func (c *Cache) Update(ctx context.Context, id int64, patch domain.TaskPatch, callerID int64) (*domain.Task, error) {
	t, err := c.base.Update(ctx, id, patch, callerID)
	if err != nil {
		return nil, err
	}
	c.evict(ctx)
	return t, nil
}

func (c *Cache) Remove(ctx context.Context, id, callerID int64) (domain.DeleteResult, error) {
	res, err := c.base.Remove(ctx, id, callerID)
	if err != nil {
		return res, err
	}
	c.evict(ctx)
	return res, nil
}

// pageKey returns the cache key for a page under the current generation.
// ok is false when caching is disabled or Redis is unavailable.
func (c *Cache) pageKey(ctx context.Context, q domain.ListQuery, callerID int64) (string, bool) {
	if c.redis == nil || c.ttl == 0 {
		return "", false
	}
	gen, err := c.redis.Get(ctx, listGenerationKey).Result()
	if err == redis.Nil {
		gen = "0"
	} else if err != nil {
		return "", false
	}
	return listKeyPrefix + gen + ":" + queryDigest(q, callerID), true
}

func (c *Cache) loadPage(ctx context.Context, key string) (domain.Page, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return domain.Page{}, false
	}
	var page domain.Page
	if err := sonic.Unmarshal(data, &page); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("discarding undecodable cached page")
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("failed to delete cached page")
		}
		return domain.Page{}, false
	}
	if page.Items == nil {
		page.Items = []domain.Task{}
	}
	return page, true
}

func (c *Cache) storePage(ctx context.Context, key string, page domain.Page) {
	data, err := sonic.Marshal(page)
	if err != nil {
		c.logger.WithError(err).Warn("failed to encode page for cache")
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("failed to cache page")
	}
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	// Pages cached under the old generation stay readable until their TTL.
	if err := c.redis.Incr(ctx, listGenerationKey).Err(); err != nil {
		c.logger.WithError(err).WithField("ttl", c.ttl).Error("failed to retire cached task pages")
	}
}

func queryDigest(q domain.ListQuery, callerID int64) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(callerID, 10))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(q.Page))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(q.Limit))
	b.WriteByte('|')
	writeOptBool(&b, q.IsCompleted)
	b.WriteByte('|')
	writeOptBool(&b, q.IsPublic)
	b.WriteByte('|')
	if q.ResponsibleID != nil {
		b.WriteString(strconv.FormatInt(*q.ResponsibleID, 10))
	}
	b.WriteByte('|')
	b.WriteString(q.Search)

	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

func writeOptBool(b *strings.Builder, v *bool) {
	if v == nil {
		b.WriteByte('-')
		return
	}
	b.WriteString(strconv.FormatBool(*v))
}
