package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端包装器，用作原始歌词缓存
type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewClient 创建新的Redis客户端。ttl 为 0 表示永久有效
func NewClient(addr, password string, db int, prefix string, ttl time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	client := &Client{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s failed: %w", addr, err)
	}

	return client, nil
}

// Ping 测试连接
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) key(k string) string {
	return c.prefix + k
}

// Set 设置键值对
func (c *Client) Set(ctx context.Context, key, value string) error {
	return c.rdb.Set(ctx, c.key(key), value, c.ttl).Err()
}

// Get 获取值，键不存在时 ok 为 false
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Del 删除键
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.rdb.Del(ctx, full...).Result()
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	return c.rdb.Close()
}
