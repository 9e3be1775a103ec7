package query

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
)

// ModuleInput Fx 输入参数
type ModuleInput struct {
	fx.In

	LC         fx.Lifecycle
	Transport  interfaces.Transport
	UnifiedCfg *config.Config `optional:"true"`
	Clock      clock.Clock    `optional:"true"`
}

// ModuleOutput Fx 输出
type ModuleOutput struct {
	fx.Out

	Discovery interfaces.Discovery
	Service   *Service
}

// Module 查询发现 Fx 模块
var Module = fx.Module("discovery/query",
	fx.Provide(ProvideService),
)

// ProvideService 提供查询服务
func ProvideService(in ModuleInput) (ModuleOutput, error) {
	cfg := ConfigFromUnified(in.UnifiedCfg)
	if in.Clock != nil {
		cfg.Clock = in.Clock
	}
	svc, err := NewWithConfig(in.Transport, cfg)
	if err != nil {
		return ModuleOutput{}, err
	}
	in.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return svc.Close()
		},
	})
	return ModuleOutput{Discovery: svc, Service: svc}, nil
}
