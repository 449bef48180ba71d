package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"workspace-agent-backend/pkg/models"

	"github.com/redis/go-redis/v9"
)

// defaultTTL 最近事件窗口的缓存时长
const defaultTTL = 30 * time.Second

// EventsCache 最近 GitHub 事件的 Redis 缓存。miss 和 Redis 故障都
// 回落到数据库读取，缓存只是加速层。
type EventsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewEventsCache 未配置地址时返回 nil，调用方按未启用处理
func NewEventsCache(addr string) *EventsCache {
	if addr == "" {
		return nil
	}
	return &EventsCache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: defaultTTL,
	}
}

func eventsKey(workspaceID int64, limit int) string {
	return fmt.Sprintf("github:events:%d:%d", workspaceID, limit)
}

// Get 命中时返回事件列表
func (c *EventsCache) Get(ctx context.Context, workspaceID int64, limit int) ([]models.GithubEvent, bool) {
	if c == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, eventsKey(workspaceID, limit)).Bytes()
	if err != nil {
		return nil, false
	}
	var events []models.GithubEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, false
	}
	return events, true
}

// Set 写入缓存，失败静默
func (c *EventsCache) Set(ctx context.Context, workspaceID int64, limit int, events []models.GithubEvent) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, eventsKey(workspaceID, limit), raw, c.ttl)
}

// Invalidate 新事件落库后清掉该工作区的缓存窗口
func (c *EventsCache) Invalidate(ctx context.Context, workspaceID int64) {
	if c == nil {
		return
	}
	pattern := fmt.Sprintf("github:events:%d:*", workspaceID)
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		c.rdb.Del(ctx, iter.Val())
	}
}

// Close 关闭连接
func (c *EventsCache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
