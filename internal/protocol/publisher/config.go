package publisher

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanfetch/config"
	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
)

// Config 发布端配置
type Config struct {
	// ChunkSize DataInfo 中公布的分块大小
	ChunkSize int

	// CacheSize 热点键缓存条目数，默认 10
	CacheSize int

	// EnforceCertificates 下载请求必须携带有效证书
	EnforceCertificates bool

	// LookupTimeout 单次数据源查找超时
	LookupTimeout time.Duration

	// MaxConcurrentLookups 同时进行的数据源查找上限
	MaxConcurrentLookups int

	// RatePerPeer 每个请求方每秒允许的请求数，0 表示不限制
	RatePerPeer float64

	// RateBurst 突发请求数
	RateBurst int

	// LimiterCacheSize 保留限速器的请求方数量
	LimiterCacheSize int

	// SendTimeout 回复发送超时
	SendTimeout time.Duration

	// Clock 时钟（测试注入）
	Clock clock.Clock
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:            pb.DefaultChunkSize,
		CacheSize:            10,
		LookupTimeout:        10 * time.Second,
		MaxConcurrentLookups: 16,
		RateBurst:            64,
		LimiterCacheSize:     1024,
		SendTimeout:          10 * time.Second,
		Clock:                clock.New(),
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch {
	case c.ChunkSize < 1:
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	case c.CacheSize < 1 || c.LimiterCacheSize < 1:
		return fmt.Errorf("%w: cache sizes must be positive", ErrInvalidConfig)
	case c.LookupTimeout <= 0 || c.SendTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.MaxConcurrentLookups < 1:
		return fmt.Errorf("%w: max concurrent lookups must be at least 1", ErrInvalidConfig)
	case c.RatePerPeer < 0 || (c.RatePerPeer > 0 && c.RateBurst < 1):
		return fmt.Errorf("%w: rate limit requires a positive burst", ErrInvalidConfig)
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithChunkSize 设置公布的分块大小
func WithChunkSize(n int) Option {
	return func(c *Config) { c.ChunkSize = n }
}

// WithEnforceCertificates 要求下载请求携带有效证书
func WithEnforceCertificates(on bool) Option {
	return func(c *Config) { c.EnforceCertificates = on }
}

// WithRateLimit 设置每个请求方的限速
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Config) {
		c.RatePerPeer = perSecond
		c.RateBurst = burst
	}
}

// WithLookupTimeout 设置数据源查找超时
func WithLookupTimeout(d time.Duration) Option {
	return func(c *Config) { c.LookupTimeout = d }
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		if clk != nil {
			c.Clock = clk
		}
	}
}

// ConfigFromUnified 从统一配置创建发布端配置
func ConfigFromUnified(cfg *config.Config) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	p := cfg.Publisher
	c.ChunkSize = p.ChunkSize
	c.CacheSize = p.CacheSize
	c.EnforceCertificates = p.EnforceCertificates
	c.LookupTimeout = p.LookupTimeout.Duration()
	c.MaxConcurrentLookups = p.MaxConcurrentLookups
	c.RatePerPeer = p.RatePerPeer
	c.RateBurst = p.RateBurst
	c.SendTimeout = cfg.Transport.DialTimeout.Duration()
	return c
}
