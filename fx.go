package chanfetch

import (
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/internal/core/certificate"
	"github.com/dep2p/go-chanfetch/internal/core/eventbus"
	"github.com/dep2p/go-chanfetch/internal/core/identity"
	"github.com/dep2p/go-chanfetch/internal/core/metrics"
	"github.com/dep2p/go-chanfetch/internal/core/storage"
	"github.com/dep2p/go-chanfetch/internal/core/transport/quic"
	"github.com/dep2p/go-chanfetch/internal/discovery/query"
	"github.com/dep2p/go-chanfetch/internal/protocol/channel"
	"github.com/dep2p/go-chanfetch/internal/protocol/publisher"
	"github.com/dep2p/go-chanfetch/internal/protocol/retrieval"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
)

// buildFxApp 构建 Fx 应用
//
// 模块装配顺序：
//  1. 配置与注入组件
//  2. Core 层（身份、传输、事件、存储、指标、证书）
//  3. Discovery 层（泛洪查询）
//  4. Protocol 层（发布、检索、通道）
func buildFxApp(o *options, node *Node) (*fx.App, error) {
	fxOpts := []fx.Option{
		// 禁用 Fx 默认日志
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),

		// ════════════════════════════════════════════════════════════════════
		// 配置
		// ════════════════════════════════════════════════════════════════════
		fx.Supply(o.cfg),
	}

	fxOpts = append(fxOpts, injectedComponents(o)...)

	// ════════════════════════════════════════════════════════════════════════
	// Core 层
	// ════════════════════════════════════════════════════════════════════════
	if o.transport == nil {
		fxOpts = append(fxOpts,
			identity.Module,
			quic.Module,
		)
	}
	fxOpts = append(fxOpts,
		eventbus.Module,
		storage.Module(),
		metrics.Module,
		certificate.Module,
	)

	// ════════════════════════════════════════════════════════════════════════
	// Discovery 层
	// ════════════════════════════════════════════════════════════════════════
	fxOpts = append(fxOpts, query.Module)

	// ════════════════════════════════════════════════════════════════════════
	// Protocol 层
	// ════════════════════════════════════════════════════════════════════════
	fxOpts = append(fxOpts,
		publisher.Module,
		retrieval.Module,
		channel.Module,
	)

	// 用户自定义选项
	fxOpts = append(fxOpts, o.fxOptions...)

	// 注入组件到 Node
	fxOpts = append(fxOpts, fx.Invoke(injectNodeComponents(node)))

	app := fx.New(fxOpts...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// injectedComponents 把调用方注入的组件提供给 Fx
func injectedComponents(o *options) []fx.Option {
	var opts []fx.Option
	if o.transport != nil {
		t := o.transport
		opts = append(opts, fx.Provide(func() interfaces.Transport { return t }))
	}
	if o.clock != nil {
		clk := o.clock
		opts = append(opts, fx.Provide(func() clock.Clock { return clk }))
	}
	if o.registerer != nil {
		reg := o.registerer
		opts = append(opts, fx.Provide(func() prometheus.Registerer { return reg }))
	}
	return opts
}

// nodeInjectParams 注入到 Node 的组件
type nodeInjectParams struct {
	fx.In

	Config    *config.Config
	Transport interfaces.Transport
	Bus       interfaces.EventBus
	Store     *storage.Store
	Recorder  metrics.Recorder
	Query     *query.Service
	Publisher *publisher.Publisher
	Manager   *retrieval.Manager
	Registry  *channel.Registry
}

// injectNodeComponents 返回注入函数
func injectNodeComponents(node *Node) interface{} {
	return func(params nodeInjectParams) {
		node.cfg = params.Config
		node.transport = params.Transport
		node.bus = params.Bus
		node.store = params.Store
		node.recorder = params.Recorder
		node.query = params.Query
		node.publisher = params.Publisher
		node.manager = params.Manager
		node.registry = params.Registry
	}
}
