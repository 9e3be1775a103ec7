package query

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// Config 查询发现配置
type Config struct {
	// TTL 泛洪跳数，默认 4
	TTL int

	// SeenCacheSize 查询 ID 去重缓存大小，默认 1024
	SeenCacheSize int

	// SendTimeout 单次转发或回复的超时
	SendTimeout time.Duration

	// KnownPeers 初始已知节点
	KnownPeers []types.PeerInfo

	// Clock 时钟（测试注入）
	Clock clock.Clock
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		TTL:           4,
		SeenCacheSize: 1024,
		SendTimeout:   20 * time.Second,
		Clock:         clock.New(),
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.TTL < 1 {
		return fmt.Errorf("%w: ttl must be at least 1", ErrInvalidConfig)
	}
	if c.SeenCacheSize < 1 {
		return fmt.Errorf("%w: seen cache size must be positive", ErrInvalidConfig)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("%w: send timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithTTL 设置泛洪跳数
func WithTTL(ttl int) Option {
	return func(c *Config) { c.TTL = ttl }
}

// WithKnownPeers 追加已知节点
func WithKnownPeers(peers ...types.PeerInfo) Option {
	return func(c *Config) { c.KnownPeers = append(c.KnownPeers, peers...) }
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		if clk != nil {
			c.Clock = clk
		}
	}
}

// ConfigFromUnified 从统一配置创建查询配置
func ConfigFromUnified(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.TTL = cfg.Discovery.QueryTTL
	c.SeenCacheSize = cfg.Discovery.SeenCacheSize
	c.SendTimeout = cfg.Transport.DialTimeout.Duration()
	for _, kp := range cfg.KnownPeers {
		c.KnownPeers = append(c.KnownPeers, types.PeerInfo{ID: types.PeerID(kp.PeerID), Addrs: kp.Addrs})
	}
	return c
}
