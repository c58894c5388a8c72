// Package cache 在偏好查询前加一层 redis 读穿缓存。
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/internal/repository"
	"github.com/d60-Lab/projtrack/pkg/logger"
)

const DefaultTTL = 30 * time.Second

// 缓存值
const (
	valTrue  = "1"
	valFalse = "0"
	valAllow = "allow"
	valDeny  = "deny"
	valUnset = "unset"
)

// PreferenceCache 读穿缓存，redis 任何错误都回落到数据库；写方法先落库再删除对应 key
type PreferenceCache struct {
	repo   repository.PreferenceRepository
	client *redis.Client
	ttl    time.Duration
}

var _ repository.PreferenceRepository = (*PreferenceCache)(nil)

func NewPreferenceCache(repo repository.PreferenceRepository, client *redis.Client, ttl time.Duration) *PreferenceCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PreferenceCache{repo: repo, client: client, ttl: ttl}
}

func muteKey(recipientID string, projectID int64) string {
	return fmt.Sprintf("notify:pref:mute:%s:%d", recipientID, projectID)
}

func explicitKey(recipientID string, kind model.Kind) string {
	return fmt.Sprintf("notify:pref:explicit:%s:%s", recipientID, kind)
}

func legacyKey(recipientID string, kind model.Kind) string {
	return fmt.Sprintf("notify:pref:legacy:%s:%s", recipientID, kind)
}

func (c *PreferenceCache) get(ctx context.Context, key string) (string, bool) {
	v, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Debug("preference cache read failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return v, true
}

func (c *PreferenceCache) set(ctx context.Context, key, val string) {
	if err := c.client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		logger.Debug("preference cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *PreferenceCache) forget(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		logger.Warn("preference cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}

func boolVal(b bool) string {
	if b {
		return valTrue
	}
	return valFalse
}

func (c *PreferenceCache) IsProjectMuted(ctx context.Context, recipientID string, projectID int64) (bool, error) {
	key := muteKey(recipientID, projectID)
	if v, ok := c.get(ctx, key); ok {
		return v == valTrue, nil
	}
	muted, err := c.repo.IsProjectMuted(ctx, recipientID, projectID)
	if err != nil {
		return false, err
	}
	c.set(ctx, key, boolVal(muted))
	return muted, nil
}

func (c *PreferenceCache) GetPreference(ctx context.Context, recipientID string, kind model.Kind) (bool, bool, error) {
	key := explicitKey(recipientID, kind)
	if v, ok := c.get(ctx, key); ok {
		switch v {
		case valAllow:
			return true, true, nil
		case valDeny:
			return false, true, nil
		case valUnset:
			return false, false, nil
		}
	}
	allow, found, err := c.repo.GetPreference(ctx, recipientID, kind)
	if err != nil {
		return false, false, err
	}
	val := valUnset
	if found {
		val = valDeny
		if allow {
			val = valAllow
		}
	}
	c.set(ctx, key, val)
	return allow, found, nil
}

func (c *PreferenceCache) HasLegacyOptOut(ctx context.Context, recipientID string, kind model.Kind) (bool, error) {
	key := legacyKey(recipientID, kind)
	if v, ok := c.get(ctx, key); ok {
		return v == valTrue, nil
	}
	out, err := c.repo.HasLegacyOptOut(ctx, recipientID, kind)
	if err != nil {
		return false, err
	}
	c.set(ctx, key, boolVal(out))
	return out, nil
}

func (c *PreferenceCache) SetPreference(ctx context.Context, recipientID string, kind model.Kind, allow bool) error {
	if err := c.repo.SetPreference(ctx, recipientID, kind, allow); err != nil {
		return err
	}
	c.forget(ctx, explicitKey(recipientID, kind))
	return nil
}

func (c *PreferenceCache) MuteProject(ctx context.Context, recipientID string, projectID int64) error {
	if err := c.repo.MuteProject(ctx, recipientID, projectID); err != nil {
		return err
	}
	c.forget(ctx, muteKey(recipientID, projectID))
	return nil
}

func (c *PreferenceCache) UnmuteProject(ctx context.Context, recipientID string, projectID int64) error {
	if err := c.repo.UnmuteProject(ctx, recipientID, projectID); err != nil {
		return err
	}
	c.forget(ctx, muteKey(recipientID, projectID))
	return nil
}

func (c *PreferenceCache) SetLegacyOptOut(ctx context.Context, recipientID string, kind model.Kind) error {
	if err := c.repo.SetLegacyOptOut(ctx, recipientID, kind); err != nil {
		return err
	}
	c.forget(ctx, legacyKey(recipientID, kind))
	return nil
}
