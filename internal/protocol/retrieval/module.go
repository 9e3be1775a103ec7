package retrieval

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/internal/core/metrics"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
)

// ModuleInput Fx 输入参数
type ModuleInput struct {
	fx.In

	LC         fx.Lifecycle
	Transport  interfaces.Transport
	Discovery  interfaces.Discovery
	Retainer   interfaces.CertificateRetainer `optional:"true"`
	Recorder   metrics.Recorder               `optional:"true"`
	Clock      clock.Clock                    `optional:"true"`
	UnifiedCfg *config.Config                 `optional:"true"`
}

// Module 检索 Fx 模块
var Module = fx.Module("protocol/retrieval",
	fx.Provide(ProvideManager),
)

// ProvideManager 提供下载器管理器，停止时关闭全部下载器
func ProvideManager(in ModuleInput) (*Manager, error) {
	cfg := ConfigFromUnified(in.UnifiedCfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := NewManager(Deps{
		Transport: in.Transport,
		Discovery: in.Discovery,
		Retainer:  in.Retainer,
		Recorder:  in.Recorder,
		Clock:     in.Clock,
	}, WithConfig(cfg))

	in.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return m.CloseAll()
		},
	})
	return m, nil
}
