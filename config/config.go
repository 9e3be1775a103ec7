// Package config 提供统一的配置管理
//
// 主 Config 结构体嵌入所有子配置，每个子配置在独立文件中定义，
// 支持从 JSON 加载和保存。
//
//	cfg := config.NewConfig()
//	cfg.Retrieval.SearchFanout = 2
//
//	cfg, err := config.Load("chanfetch.json")
package config

// KnownPeer 已知节点配置
//
// 发现查询从这些节点开始泛洪。
type KnownPeer struct {
	// PeerID 目标节点的 Peer ID（Base58）
	PeerID string `json:"peer_id"`

	// Addrs 目标节点的地址列表，例如 "127.0.0.1:4001"
	Addrs []string `json:"addrs"`
}

// Config 是 chanfetch 节点的完整配置结构
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport"`

	// Discovery 发现配置
	Discovery DiscoveryConfig `json:"discovery"`

	// Retrieval 检索（下载端）配置
	Retrieval RetrievalConfig `json:"retrieval"`

	// Publisher 发布端配置
	Publisher PublisherConfig `json:"publisher"`

	// Certificate 证书配置
	Certificate CertificateConfig `json:"certificate"`

	// Storage 存储配置
	Storage StorageConfig `json:"storage"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`

	// Log 日志配置
	Log LogConfig `json:"log"`

	// KnownPeers 已知节点列表
	KnownPeers []KnownPeer `json:"known_peers,omitempty"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:    DefaultIdentityConfig(),
		Transport:   DefaultTransportConfig(),
		Discovery:   DefaultDiscoveryConfig(),
		Retrieval:   DefaultRetrievalConfig(),
		Publisher:   DefaultPublisherConfig(),
		Certificate: DefaultCertificateConfig(),
		Storage:     DefaultStorageConfig(),
		Metrics:     DefaultMetricsConfig(),
		Log:         DefaultLogConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Discovery.Validate(); err != nil {
		return err
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	if err := c.Publisher.Validate(); err != nil {
		return err
	}
	if err := c.Certificate.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	for i, kp := range c.KnownPeers {
		if kp.PeerID == "" || len(kp.Addrs) == 0 {
			return &FieldError{Field: "known_peers", Index: i, Reason: "peer_id and addrs are required"}
		}
	}
	return nil
}
