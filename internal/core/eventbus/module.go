package eventbus

import (
	"context"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"go.uber.org/fx"
)

// Result Fx 模块输出结果
type Result struct {
	fx.Out

	EventBus interfaces.EventBus
	Bus      *Bus
}

// Module 事件总线 Fx 模块
var Module = fx.Module("eventbus",
	fx.Provide(ProvideEventBus),
	fx.Invoke(registerLifecycle),
)

// ProvideEventBus 提供 EventBus 实例
func ProvideEventBus() Result {
	b := NewBus()
	return Result{EventBus: b, Bus: b}
}

type lifecycleInput struct {
	fx.In

	LC  fx.Lifecycle
	Bus *Bus
}

func registerLifecycle(in lifecycleInput) {
	in.LC.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return in.Bus.Close()
		},
	})
}
