package retrieval

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/internal/core/metrics"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
)

// Config 下载器配置
type Config struct {
	// MaxParallelSearch 每个发布者在途搜索批次上限
	MaxParallelSearch int

	// MaxParallelDownload 每个发布者在途下载批次上限
	MaxParallelDownload int

	// SearchBatchSize 单个搜索批次的最大键数
	SearchBatchSize int

	// SearchFanout 新请求同时询问的发布者数，默认 1 即只发给负载最小的发布者
	SearchFanout int

	// MaxChunkRetries 块在同一发布者上的最大尝试次数
	MaxChunkRetries int

	// MaxSearchTimeouts 搜索在同一发布者上超时多少次后视为未找到
	MaxSearchTimeouts int

	MinRoundTrip  time.Duration
	MaxRoundTrip  time.Duration
	RTTWindow     int
	RTTMinSamples int

	// TickInterval 定时检查周期
	TickInterval time.Duration

	// ConnectTimeout 连接发布者超时
	ConnectTimeout time.Duration

	// SendTimeout 单条消息发送超时
	SendTimeout time.Duration

	// WaitForPublisher 首次访问等待发布者的时间
	WaitForPublisher time.Duration

	// Requery 已有结果时重新查询的间隔
	Requery time.Duration

	// MaxKeyLength 接受的最大键值长度，超出的应答视为未找到
	MaxKeyLength int64
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxParallelSearch:   5,
		MaxParallelDownload: 5,
		SearchBatchSize:     10,
		SearchFanout:        1,
		MaxChunkRetries:     2,
		MaxSearchTimeouts:   2,
		MinRoundTrip:        5 * time.Second,
		MaxRoundTrip:        30 * time.Second,
		RTTWindow:           10,
		RTTMinSamples:       3,
		TickInterval:        time.Second,
		ConnectTimeout:      20 * time.Second,
		SendTimeout:         10 * time.Second,
		WaitForPublisher:    45 * time.Second,
		Requery:             180 * time.Second,
		MaxKeyLength:        256 << 20,
	}
}

// ConfigFromUnified 从统一配置创建下载器配置
func ConfigFromUnified(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	r := cfg.Retrieval
	c.MaxParallelSearch = r.MaxParallelSearch
	c.MaxParallelDownload = r.MaxParallelDownload
	c.SearchBatchSize = r.SearchBatchSize
	c.SearchFanout = r.SearchFanout
	c.MaxChunkRetries = r.MaxChunkRetries
	c.MaxSearchTimeouts = r.MaxSearchTimeouts
	c.MinRoundTrip = r.MinRoundTrip.Duration()
	c.MaxRoundTrip = r.MaxRoundTrip.Duration()
	c.RTTWindow = r.RTTWindow
	c.RTTMinSamples = r.RTTMinSamples
	c.TickInterval = r.TickInterval.Duration()
	c.ConnectTimeout = r.ConnectTimeout.Duration()
	c.WaitForPublisher = cfg.Discovery.WaitForPublisher.Duration()
	c.Requery = cfg.Discovery.Requery.Duration()
	return c
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch {
	case c.MaxParallelSearch < 1 || c.MaxParallelDownload < 1:
		return fmt.Errorf("%w: parallel limits must be positive", ErrInvalidConfig)
	case c.SearchBatchSize < 1:
		return fmt.Errorf("%w: search batch size must be positive", ErrInvalidConfig)
	case c.SearchFanout < 1:
		return fmt.Errorf("%w: search fanout must be positive", ErrInvalidConfig)
	case c.MaxChunkRetries < 1 || c.MaxSearchTimeouts < 1:
		return fmt.Errorf("%w: retry limits must be positive", ErrInvalidConfig)
	case c.MinRoundTrip <= 0 || c.MaxRoundTrip < c.MinRoundTrip:
		return fmt.Errorf("%w: round trip bounds", ErrInvalidConfig)
	case c.RTTWindow < 1 || c.RTTMinSamples < 1 || c.RTTMinSamples > c.RTTWindow:
		return fmt.Errorf("%w: rtt window", ErrInvalidConfig)
	case c.TickInterval <= 0 || c.ConnectTimeout <= 0 || c.SendTimeout <= 0:
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	case c.WaitForPublisher <= 0 || c.Requery <= 0:
		return fmt.Errorf("%w: discovery windows must be positive", ErrInvalidConfig)
	case c.MaxKeyLength < 1:
		return fmt.Errorf("%w: max key length must be positive", ErrInvalidConfig)
	}
	return nil
}

// Deps 下载器依赖的外部协作者
type Deps struct {
	// Transport 消息传输（必需）
	Transport interfaces.Transport

	// Discovery 查询发现（必需）
	Discovery interfaces.Discovery

	// Retainer 本节点证书，可为 nil
	Retainer interfaces.CertificateRetainer

	// Recorder 指标记录，可为 nil
	Recorder metrics.Recorder

	// Clock 时钟，可为 nil
	Clock clock.Clock
}

// Option 下载器选项
type Option func(*Config)

// WithSearchFanout 设置搜索扇出
func WithSearchFanout(n int) Option {
	return func(c *Config) { c.SearchFanout = n }
}

// WithTickInterval 设置定时检查周期
func WithTickInterval(d time.Duration) Option {
	return func(c *Config) { c.TickInterval = d }
}

// WithWaitForPublisher 设置首次等待发布者的时间
func WithWaitForPublisher(d time.Duration) Option {
	return func(c *Config) { c.WaitForPublisher = d }
}

// WithMaxChunkRetries 设置块重试上限
func WithMaxChunkRetries(n int) Option {
	return func(c *Config) { c.MaxChunkRetries = n }
}

// WithConfig 整体替换配置
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}
