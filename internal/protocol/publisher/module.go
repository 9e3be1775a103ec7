package publisher

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/internal/core/metrics"
	"github.com/dep2p/go-chanfetch/internal/discovery/query"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
)

// ModuleInput Fx 输入参数
type ModuleInput struct {
	fx.In

	LC         fx.Lifecycle
	Transport  interfaces.Transport
	Validator  interfaces.CertificateValidator `optional:"true"`
	Recorder   metrics.Recorder                `optional:"true"`
	Query      *query.Service                  `optional:"true"`
	UnifiedCfg *config.Config                  `optional:"true"`
	Clock      clock.Clock                     `optional:"true"`
}

// Module 发布端 Fx 模块
var Module = fx.Module("protocol/publisher",
	fx.Provide(ProvidePublisher),
)

// ProvidePublisher 提供应答器；存在查询服务时注册为查询应答器
func ProvidePublisher(in ModuleInput) (*Publisher, error) {
	cfg := ConfigFromUnified(in.UnifiedCfg)
	if in.Clock != nil {
		cfg.Clock = in.Clock
	}
	p, err := NewWithConfig(in.Transport, in.Validator, in.Recorder, cfg)
	if err != nil {
		return nil, err
	}

	var remove func()
	if in.Query != nil {
		remove = in.Query.AddResponder(p)
	}
	in.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			if remove != nil {
				remove()
			}
			return p.Close()
		},
	})
	return p, nil
}
