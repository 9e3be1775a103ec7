package config

import "time"

// RetrievalConfig 检索（下载端）配置
type RetrievalConfig struct {
	// MaxParallelSearch 每个发布者同时在途的搜索批次上限
	MaxParallelSearch int `json:"max_parallel_search"`

	// MaxParallelDownload 每个发布者同时在途的下载批次上限
	MaxParallelDownload int `json:"max_parallel_download"`

	// SearchBatchSize 每个搜索批次的最大键数
	SearchBatchSize int `json:"search_batch_size"`

	// SearchFanout 新请求同时询问的发布者数，默认 1 即只发给负载最小的发布者
	SearchFanout int `json:"search_fanout"`

	// MaxChunkRetries 块在同一发布者上的重试次数，超过后转交其他发布者
	MaxChunkRetries int `json:"max_chunk_retries"`

	// MaxSearchTimeouts 搜索在同一发布者上超时的次数，超过后视为未找到
	MaxSearchTimeouts int `json:"max_search_timeouts"`

	// MinRoundTrip / MaxRoundTrip 自适应超时上下限
	MinRoundTrip Duration `json:"min_round_trip"`
	MaxRoundTrip Duration `json:"max_round_trip"`

	// RTTWindow 往返时间样本窗口
	RTTWindow int `json:"rtt_window"`

	// RTTMinSamples 开始使用平均值所需的最少样本数
	RTTMinSamples int `json:"rtt_min_samples"`

	// TickInterval 定时检查周期
	TickInterval Duration `json:"tick_interval"`

	// ConnectTimeout 连接发布者超时
	ConnectTimeout Duration `json:"connect_timeout"`
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		MaxParallelSearch:   5,
		MaxParallelDownload: 5,
		SearchBatchSize:     10,
		SearchFanout:        1,
		MaxChunkRetries:     2,
		MaxSearchTimeouts:   2,
		MinRoundTrip:        Duration(5 * time.Second),
		MaxRoundTrip:        Duration(30 * time.Second),
		RTTWindow:           10,
		RTTMinSamples:       3,
		TickInterval:        Duration(time.Second),
		ConnectTimeout:      Duration(20 * time.Second),
	}
}

// Validate 验证检索配置
func (c *RetrievalConfig) Validate() error {
	if c.MaxParallelSearch < 1 || c.MaxParallelDownload < 1 {
		return invalid("retrieval", "parallel limits must be at least 1")
	}
	if c.SearchBatchSize < 1 {
		return invalid("retrieval.search_batch_size", "must be at least 1")
	}
	if c.SearchFanout < 1 {
		return invalid("retrieval.search_fanout", "must be at least 1")
	}
	if c.MaxChunkRetries < 1 || c.MaxSearchTimeouts < 1 {
		return invalid("retrieval", "retry limits must be at least 1")
	}
	if c.MinRoundTrip <= 0 || c.MaxRoundTrip < c.MinRoundTrip {
		return invalid("retrieval", "round trip bounds must satisfy 0 < min <= max")
	}
	if c.RTTWindow < 1 || c.RTTMinSamples < 1 || c.RTTMinSamples > c.RTTWindow {
		return invalid("retrieval", "rtt window must hold at least rtt_min_samples samples")
	}
	if c.TickInterval <= 0 || c.ConnectTimeout <= 0 {
		return invalid("retrieval", "tick_interval and connect_timeout must be positive")
	}
	return nil
}

// PublisherConfig 发布端配置
type PublisherConfig struct {
	// ChunkSize 对外公布的分块大小
	ChunkSize int `json:"chunk_size"`

	// CacheSize 热点键缓存条目数
	CacheSize int `json:"cache_size"`

	// EnforceCertificates 是否要求下载请求携带有效证书
	EnforceCertificates bool `json:"enforce_certificates"`

	// LookupTimeout 单次数据源查找超时
	LookupTimeout Duration `json:"lookup_timeout"`

	// MaxConcurrentLookups 同时进行的数据源查找上限
	MaxConcurrentLookups int `json:"max_concurrent_lookups"`

	// RatePerPeer 每个请求方每秒允许的请求数，0 表示不限制
	RatePerPeer float64 `json:"rate_per_peer"`

	// RateBurst 突发请求数
	RateBurst int `json:"rate_burst"`
}

// DefaultPublisherConfig 返回默认发布端配置
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		ChunkSize:            65535,
		CacheSize:            10,
		LookupTimeout:        Duration(10 * time.Second),
		MaxConcurrentLookups: 16,
		RateBurst:            64,
	}
}

// Validate 验证发布端配置
func (c *PublisherConfig) Validate() error {
	if c.ChunkSize < 1 {
		return invalid("publisher.chunk_size", "must be positive")
	}
	if c.CacheSize < 1 {
		return invalid("publisher.cache_size", "must be positive")
	}
	if c.LookupTimeout <= 0 {
		return invalid("publisher.lookup_timeout", "must be positive")
	}
	if c.MaxConcurrentLookups < 1 {
		return invalid("publisher.max_concurrent_lookups", "must be at least 1")
	}
	if c.RatePerPeer < 0 || (c.RatePerPeer > 0 && c.RateBurst < 1) {
		return invalid("publisher.rate_per_peer", "requires a positive rate_burst")
	}
	return nil
}
