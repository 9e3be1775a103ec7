package chanfetch

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	// cfg 统一配置
	cfg *config.Config

	// transport 调用方提供的传输层；为 nil 时使用 QUIC
	transport interfaces.Transport

	// clock 时钟（测试注入）
	clock clock.Clock

	// registerer Prometheus 注册器
	registerer prometheus.Registerer

	// fxOptions 额外的 Fx 选项
	fxOptions []fx.Option
}

func newOptions() *options {
	return &options{cfg: config.NewConfig()}
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置选项
// ════════════════════════════════════════════════════════════════════════════

// WithConfig 使用完整配置替换默认配置
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return config.ErrNilConfig
		}
		o.cfg = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		o.cfg = cfg
		return nil
	}
}

// WithListenAddr 设置 QUIC 监听地址，例如 "0.0.0.0:4001"
func WithListenAddr(addr string) Option {
	return func(o *options) error {
		o.cfg.Transport.ListenAddr = addr
		return nil
	}
}

// WithIdentityFile 设置身份私钥文件；文件不存在时生成并保存
func WithIdentityFile(path string) Option {
	return func(o *options) error {
		o.cfg.Identity.KeyFile = path
		return nil
	}
}

// WithDataDir 设置数据目录；空字符串表示使用内存存储
func WithDataDir(dir string) Option {
	return func(o *options) error {
		o.cfg.Storage.DataDir = dir
		return nil
	}
}

// WithKnownPeers 追加已知节点
//
// 发现查询从这些节点开始泛洪。
func WithKnownPeers(peers ...types.PeerInfo) Option {
	return func(o *options) error {
		for _, p := range peers {
			if p.ID.IsEmpty() {
				return fmt.Errorf("known peer: %w", types.ErrInvalidPeerID)
			}
			o.cfg.KnownPeers = append(o.cfg.KnownPeers, config.KnownPeer{
				PeerID: p.ID.String(),
				Addrs:  p.Addrs,
			})
		}
		return nil
	}
}

// WithWaitForPublisher 设置首次访问通道时等待发布者的时间
func WithWaitForPublisher(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("wait for publisher must be positive: %s", d)
		}
		o.cfg.Discovery.WaitForPublisher = config.Duration(d)
		return nil
	}
}

// WithTrustedIssuers 追加受信任的证书签发者（Base58 公钥）
func WithTrustedIssuers(issuers ...string) Option {
	return func(o *options) error {
		o.cfg.Certificate.TrustedIssuers = append(o.cfg.Certificate.TrustedIssuers, issuers...)
		return nil
	}
}

// WithCertificateFile 设置本节点的使用证书文件
func WithCertificateFile(path string) Option {
	return func(o *options) error {
		o.cfg.Certificate.File = path
		return nil
	}
}

// WithMetrics 启用或关闭 Prometheus 指标
func WithMetrics(enabled bool) Option {
	return func(o *options) error {
		o.cfg.Metrics.Enabled = enabled
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              组件注入
// ════════════════════════════════════════════════════════════════════════════

// WithTransport 使用调用方提供的传输层（例如内存网络）
//
// 传输层的关闭由调用方负责。
func WithTransport(t interfaces.Transport) Option {
	return func(o *options) error {
		if t == nil {
			return fmt.Errorf("transport cannot be nil")
		}
		o.transport = t
		return nil
	}
}

// WithClock 注入时钟
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clock = clk
		return nil
	}
}

// WithRegisterer 设置 Prometheus 注册器；未设置时使用独立的 Registry
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registerer = reg
		return nil
	}
}

// WithFxOptions 追加 Fx 选项（高级用法）
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
