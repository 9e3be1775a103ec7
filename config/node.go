package config

import (
	"path/filepath"
	"strings"
	"time"
)

// IdentityConfig 身份配置
type IdentityConfig struct {
	// KeyFile ed25519 私钥文件；为空时每次启动生成临时身份
	KeyFile string `json:"key_file,omitempty"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// TransportConfig 传输层配置
type TransportConfig struct {
	// ListenAddr QUIC 监听地址
	ListenAddr string `json:"listen_addr"`

	// DialTimeout 拨号超时
	DialTimeout Duration `json:"dial_timeout"`

	// MaxMessageSize 单条消息最大字节数
	MaxMessageSize int `json:"max_message_size"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ListenAddr:     "0.0.0.0:4001",
		DialTimeout:    Duration(20 * time.Second),
		MaxMessageSize: 4 << 20,
	}
}

// Validate 验证传输配置
func (c *TransportConfig) Validate() error {
	if c.ListenAddr == "" {
		return invalid("transport.listen_addr", "cannot be empty")
	}
	if c.DialTimeout <= 0 {
		return invalid("transport.dial_timeout", "must be positive")
	}
	if c.MaxMessageSize < 1024 {
		return invalid("transport.max_message_size", "must be at least 1024")
	}
	return nil
}

// DiscoveryConfig 发现配置
type DiscoveryConfig struct {
	// QueryTTL 查询泛洪跳数
	QueryTTL int `json:"query_ttl"`

	// SeenCacheSize 去重缓存大小
	SeenCacheSize int `json:"seen_cache_size"`

	// WaitForPublisher 首次访问等待发布者的时间；零结果超过该时间后重新查询
	WaitForPublisher Duration `json:"wait_for_publisher"`

	// Requery 已有结果时重新查询的间隔
	Requery Duration `json:"requery"`
}

// DefaultDiscoveryConfig 返回默认发现配置
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		QueryTTL:         4,
		SeenCacheSize:    1024,
		WaitForPublisher: Duration(45 * time.Second),
		Requery:          Duration(180 * time.Second),
	}
}

// Validate 验证发现配置
func (c *DiscoveryConfig) Validate() error {
	if c.QueryTTL < 1 {
		return invalid("discovery.query_ttl", "must be at least 1")
	}
	if c.SeenCacheSize < 1 {
		return invalid("discovery.seen_cache_size", "must be positive")
	}
	if c.WaitForPublisher <= 0 || c.Requery <= 0 {
		return invalid("discovery", "wait_for_publisher and requery must be positive")
	}
	return nil
}

// CertificateConfig 证书配置
type CertificateConfig struct {
	// TrustedIssuers 受信任签发者公钥（Base58）
	TrustedIssuers []string `json:"trusted_issuers,omitempty"`

	// File 本节点证书文件（由签发者签发）
	File string `json:"file,omitempty"`

	// RefreshBefore 证书到期前提前刷新的时间
	RefreshBefore Duration `json:"refresh_before"`
}

// DefaultCertificateConfig 返回默认证书配置
func DefaultCertificateConfig() CertificateConfig {
	return CertificateConfig{
		RefreshBefore: Duration(5 * time.Minute),
	}
}

// Validate 验证证书配置
func (c *CertificateConfig) Validate() error {
	if c.RefreshBefore < 0 {
		return invalid("certificate.refresh_before", "cannot be negative")
	}
	return nil
}

// StorageConfig 存储配置
type StorageConfig struct {
	// DataDir 数据目录路径；为空时使用内存存储
	DataDir string `json:"data_dir"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{DataDir: "./data"}
}

// Validate 验证存储配置
func (c *StorageConfig) Validate() error {
	return nil
}

// DBPath 返回 BadgerDB 数据库路径
func (c *StorageConfig) DBPath() string {
	if c.DataDir == "" {
		return ""
	}
	return filepath.Join(c.DataDir, "chanfetch.db")
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否注册 Prometheus 指标
	Enabled bool `json:"enabled"`

	// Namespace 指标命名空间
	Namespace string `json:"namespace"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true, Namespace: "chanfetch"}
}

// LogConfig 日志配置
type LogConfig struct {
	// Level debug / info / warn / error
	Level string `json:"level"`

	// Format text / json
	Format string `json:"format"`

	// File 日志文件；为空时输出到 stderr
	File string `json:"file,omitempty"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "text"}
}

// Validate 验证日志配置
func (c *LogConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level", "unknown level "+c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
	default:
		return invalid("log.format", "unknown format "+c.Format)
	}
	return nil
}
