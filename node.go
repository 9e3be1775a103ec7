package chanfetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/internal/core/metrics"
	"github.com/dep2p/go-chanfetch/internal/core/storage"
	"github.com/dep2p/go-chanfetch/internal/discovery/query"
	"github.com/dep2p/go-chanfetch/internal/protocol/channel"
	"github.com/dep2p/go-chanfetch/internal/protocol/publisher"
	"github.com/dep2p/go-chanfetch/internal/protocol/retrieval"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/lib/log"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

var logger = log.Logger("chanfetch")

const (
	// initializeTimeout 启动超时
	initializeTimeout = 30 * time.Second

	// shutdownTimeout 关闭超时
	shutdownTimeout = 15 * time.Second
)

// Node chanfetch 节点
//
// Node 是用户交互的主入口：按通道取值、发布本地数据、订阅键事件。
type Node struct {
	// ────────────────────────────────────────────────────────────────────────
	// 配置和状态
	// ────────────────────────────────────────────────────────────────────────

	// app Fx 应用
	app *fx.App

	// cfg 统一配置
	cfg *config.Config

	// ────────────────────────────────────────────────────────────────────────
	// 组件（由 Fx 注入）
	// ────────────────────────────────────────────────────────────────────────

	transport interfaces.Transport
	bus       interfaces.EventBus
	store     *storage.Store
	recorder  metrics.Recorder
	query     *query.Service
	publisher *publisher.Publisher
	manager   *retrieval.Manager
	registry  *channel.Registry

	// ────────────────────────────────────────────────────────────────────────
	// 生命周期状态
	// ────────────────────────────────────────────────────────────────────────

	mu      sync.Mutex
	started bool
	closed  bool
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造函数
// ════════════════════════════════════════════════════════════════════════════

// New 创建新节点
//
// 创建节点但不启动，需要调用 Start() 启动。
//
//	node, err := chanfetch.New(ctx,
//	    chanfetch.WithListenAddr("0.0.0.0:4001"),
//	    chanfetch.WithDataDir("./data"),
//	)
func New(_ context.Context, opts ...Option) (*Node, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	node := &Node{}
	app, err := buildFxApp(o, node)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	node.app = app
	return node, nil
}

// Start 快捷启动函数
//
// 等价于 New() + Start()。
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	return node, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()
	if err := n.app.Start(initCtx); err != nil {
		// Fx 已回滚启动成功的钩子，应用不可再用
		n.closed = true
		return fmt.Errorf("start fx app: %w", err)
	}
	n.started = true

	local := n.transport.LocalPeer()
	logger.Info("节点已启动",
		"version", Version,
		"peer", local.ID.ShortString(),
		"addrs", local.Addrs,
		"knownPeers", len(n.cfg.KnownPeers))
	return nil
}

// Close 关闭节点
//
// 关闭全部下载器、发布者、查询服务与存储；重复调用安全。
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	started := n.started
	n.mu.Unlock()

	if !started {
		// Fx 只对已启动的钩子执行 OnStop
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := n.app.Start(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := n.app.Stop(ctx); err != nil {
		logger.Warn("关闭节点出错", "error", err)
		return err
	}
	logger.Info("节点已关闭")
	return nil
}

// IsStarted 返回节点是否在运行
func (n *Node) IsStarted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started && !n.closed
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点 ID
func (n *Node) ID() types.PeerID {
	return n.transport.LocalPeer().ID
}

// PeerInfo 返回本节点信息（ID 与监听地址），可作为其他节点的已知节点
func (n *Node) PeerInfo() types.PeerInfo {
	return n.transport.LocalPeer()
}

// Config 返回节点配置
func (n *Node) Config() *config.Config {
	return n.cfg
}

// ════════════════════════════════════════════════════════════════════════════
//                              通道
// ════════════════════════════════════════════════════════════════════════════

// Channel 返回通道，不存在时创建
func (n *Node) Channel(id types.ChannelID) *channel.Channel {
	return n.registry.Create(id)
}

// Channels 返回已创建的全部通道
func (n *Node) Channels() []*channel.Channel {
	return n.registry.Channels()
}

// RemoveChannel 注销通道：停止发布并关闭其下载器
func (n *Node) RemoveChannel(id types.ChannelID) error {
	return n.registry.Remove(id)
}

// GetKey 从任意来源取值
//
// 等价于 Channel(id).GetKey(ctx, key, channel.FromAny)。
func (n *Node) GetKey(ctx context.Context, id types.ChannelID, key string) ([]byte, error) {
	if !n.IsStarted() {
		return nil, ErrNotStarted
	}
	return n.Channel(id).GetKey(ctx, key, channel.FromAny)
}

// PublishStored 以持久化存储作为本地数据源并发布通道
func (n *Node) PublishStored(id types.ChannelID, definition, geometry []byte) (*storage.ChannelStore, error) {
	if !n.IsStarted() {
		return nil, ErrNotStarted
	}
	src := n.store.Channel(id)
	ch := n.Channel(id)
	if err := ch.AttachLocal(src); err != nil {
		return nil, err
	}
	if err := ch.Publish(definition, geometry); err != nil {
		return nil, err
	}
	return src, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              组件访问
// ════════════════════════════════════════════════════════════════════════════

// Store 返回持久化存储
func (n *Node) Store() *storage.Store { return n.store }

// Events 返回事件总线
//
// 可订阅的事件：types.EvtKeyRequested、types.EvtKeyProvided、types.EvtKeyFailed。
func (n *Node) Events() interfaces.EventBus { return n.bus }

// Downloads 返回下载器管理器
func (n *Node) Downloads() *retrieval.Manager { return n.manager }

// Publisher 返回发布端应答器
func (n *Node) Publisher() *publisher.Publisher { return n.publisher }

// Query 返回查询发现服务
func (n *Node) Query() *query.Service { return n.query }

// Metrics 返回指标记录器
func (n *Node) Metrics() metrics.Recorder { return n.recorder }
