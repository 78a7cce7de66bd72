package redis

import (
	"Storefront/internal/model"
	"Storefront/internal/pkg/consts"
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// snapshotVersion 快照结构变化时递增，旧版本数据直接丢弃
const snapshotVersion = 1

type snapshotRecord struct {
	Version       int                  `json:"v"`
	SavedAt       time.Time            `json:"savedAt"`
	Conversations []model.Conversation `json:"conversations"`
}

// SnapshotCache 按用户保存会话快照，用于下次启动时先行展示
type SnapshotCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewSnapshotCache(rdb redis.Cmdable, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

func (c *SnapshotCache) key(owner string) string {
	return consts.IMSnapshotKey + owner
}

// Load 读取快照，不存在或版本不符时返回空
func (c *SnapshotCache) Load(ctx context.Context, owner string) ([]model.Conversation, error) {
	data, err := GetBytes(ctx, c.rdb, c.key(owner))
	if err != nil {
		return nil, errors.Wrap(err, "load snapshot")
	}
	if data == nil {
		return nil, nil
	}
	var rec snapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		_ = DeleteKey(ctx, c.rdb, c.key(owner))
		return nil, errors.Wrap(err, "decode snapshot")
	}
	if rec.Version != snapshotVersion {
		return nil, nil
	}
	return rec.Conversations, nil
}

// Save 覆盖保存快照
func (c *SnapshotCache) Save(ctx context.Context, owner string, convs []model.Conversation) error {
	data, err := json.Marshal(&snapshotRecord{
		Version:       snapshotVersion,
		SavedAt:       time.Now(),
		Conversations: convs,
	})
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	return errors.Wrap(SetWithExpiration(ctx, c.rdb, c.key(owner), data, c.ttl), "save snapshot")
}
