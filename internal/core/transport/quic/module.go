package quic

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/internal/core/identity"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
)

// ConfigFromUnified 从统一配置创建传输配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		ListenAddr:     cfg.Transport.ListenAddr,
		DialTimeout:    cfg.Transport.DialTimeout.Duration(),
		MaxMessageSize: cfg.Transport.MaxMessageSize,
	}
}

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	LC         fx.Lifecycle
	Identity   *identity.Identity
	UnifiedCfg *config.Config `optional:"true"`
}

// Module QUIC 传输 Fx 模块
var Module = fx.Module("transport/quic",
	fx.Provide(
		fx.Annotate(
			ProvideTransport,
			fx.As(new(interfaces.Transport)),
		),
	),
)

// ProvideTransport 创建传输并在停止时关闭
func ProvideTransport(in ModuleInput) (*Transport, error) {
	t, err := New(in.Identity, ConfigFromUnified(in.UnifiedCfg))
	if err != nil {
		return nil, err
	}
	in.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return t.Close()
		},
	})
	return t, nil
}
