// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 的 UniversalClient，并管理业务方加载的 Lua 脚本。
// 单个地址时是普通客户端，多个地址时自动切换为集群客户端。
type Client struct {
	client goredis.UniversalClient

	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient 创建客户端并做一次 PING 检查
// addrs 格式为 "host1:port1,host2:port2"
func NewClient(addrs string) (*Client, error) {
	uc := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        strings.Split(addrs, ","),
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     64,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := uc.Ping(ctx).Err(); err != nil {
		_ = uc.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", addrs, err)
	}
	return Wrap(uc), nil
}

// Wrap 用一个已经创建好的 go-redis 客户端构造 Client
func Wrap(uc goredis.UniversalClient) *Client {
	return &Client{
		client:  uc,
		scripts: make(map[string]*goredis.Script),
	}
}

// GetClient 返回底层的 go-redis 客户端
func (c *Client) GetClient() goredis.UniversalClient {
	return c.client
}

// LoadScriptFromContent 以 name 注册一段 Lua 脚本
func (c *Client) LoadScriptFromContent(name, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("script %s is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[name] = goredis.NewScript(content)
	return nil
}

// RunScript 执行已注册的脚本。优先 EVALSHA，脚本缓存丢失时自动回退到 EVAL。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %s is not loaded", name)
	}
	return script.Run(ctx, c.client, keys, args...).Result()
}

// Close 关闭连接池
func (c *Client) Close() error {
	return c.client.Close()
}
