// Package cache Redis缓存管理
// 值以JSON形式存储，所有键自动附加前缀
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"defi-aggregator/quote-router/internal/types"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// CacheManager 缓存管理器接口
type CacheManager interface {
	// Get 读取缓存到dest，未命中返回false
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	// Set 写入缓存，ttl<=0 表示不过期
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisCache 基于Redis的缓存实现
type RedisCache struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

// NewRedisCache 创建Redis缓存并检查连通性
func NewRedisCache(cfg *types.RedisConfig, prefix string, logger *logrus.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	logger.Infof("✅ Redis连接成功: %s:%d db=%d", cfg.Host, cfg.Port, cfg.DB)
	return NewRedisCacheWithClient(client, prefix, logger), nil
}

// NewRedisCacheWithClient 使用已有客户端创建缓存
func NewRedisCacheWithClient(client *redis.Client, prefix string, logger *logrus.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (c *RedisCache) key(key string) string {
	return c.prefix + key
}

// Get 读取缓存
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("读取缓存失败: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// 损坏的缓存直接丢弃
		c.logger.Warnf("缓存数据损坏，已删除: key=%s, err=%v", key, err)
		_ = c.client.Del(ctx, c.key(key)).Err()
		return false, nil
	}
	return true, nil
}

// Set 写入缓存
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化缓存值失败: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("写入缓存失败: %w", err)
	}
	return nil
}

// Delete 删除缓存
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

// Ping 检查连接
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接
func (c *RedisCache) Close() error {
	return c.client.Close()
}
