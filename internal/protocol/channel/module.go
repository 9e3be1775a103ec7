package channel

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-chanfetch/internal/protocol/publisher"
	"github.com/dep2p/go-chanfetch/internal/protocol/retrieval"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
)

// ModuleInput Fx 输入参数
type ModuleInput struct {
	fx.In

	LC        fx.Lifecycle
	Manager   *retrieval.Manager
	Publisher *publisher.Publisher `optional:"true"`
	Bus       interfaces.EventBus  `optional:"true"`
	Clock     clock.Clock          `optional:"true"`
}

// Module 通道 Fx 模块
var Module = fx.Module("protocol/channel",
	fx.Provide(ProvideRegistry),
)

// ProvideRegistry 提供通道注册表
func ProvideRegistry(in ModuleInput) (*Registry, error) {
	r, err := NewRegistry(Deps{
		Manager:   in.Manager,
		Publisher: in.Publisher,
		Bus:       in.Bus,
		Clock:     in.Clock,
	})
	if err != nil {
		return nil, err
	}
	in.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return r.Close()
		},
	})
	return r, nil
}
