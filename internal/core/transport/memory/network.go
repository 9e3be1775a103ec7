// Package memory 实现进程内消息网络
//
// 投递是异步且无序的（每条消息一个 goroutine），与真实网络的语义一致；
// 网络支持阻断链路、按条件丢包和注入延迟，供检索引擎的容错测试使用。
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-chanfetch/internal/core/identity"
	"github.com/dep2p/go-chanfetch/internal/core/transport"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// DropFunc 返回 true 表示丢弃该消息
type DropFunc func(from, to types.PeerID, msg *types.Message) bool

// ObserveFunc 消息观察者（发送时调用，丢弃的消息也会被观察到）
type ObserveFunc func(from, to types.PeerID, msg *types.Message)

type link struct {
	from, to types.PeerID
}

// Network 进程内网络
type Network struct {
	mu      sync.RWMutex
	peers   map[types.PeerID]*Transport
	blocked map[link]bool
	drop    DropFunc
	observe ObserveFunc
	latency time.Duration

	sent      atomic.Int64
	delivered atomic.Int64
	pending   atomic.Int64
}

// NewNetwork 创建网络
func NewNetwork() *Network {
	return &Network{
		peers:   make(map[types.PeerID]*Transport),
		blocked: make(map[link]bool),
	}
}

// NewPeer 以新生成的身份加入网络
func (n *Network) NewPeer() *Transport {
	id, err := identity.Generate()
	if err != nil {
		panic(fmt.Sprintf("memory: generate identity: %v", err))
	}
	return n.AddPeer(id.ID())
}

// AddPeer 以指定 ID 加入网络
func (n *Network) AddPeer(id types.PeerID) *Transport {
	t := &Transport{
		net:      n,
		info:     types.PeerInfo{ID: id, Addrs: []string{"mem/" + string(id)}},
		handlers: transport.NewHandlers(),
	}
	n.mu.Lock()
	n.peers[id] = t
	n.mu.Unlock()
	return t
}

// Block 阻断 from -> to 方向的消息
func (n *Network) Block(from, to types.PeerID) {
	n.mu.Lock()
	n.blocked[link{from, to}] = true
	n.mu.Unlock()
}

// Unblock 恢复 from -> to 方向的消息
func (n *Network) Unblock(from, to types.PeerID) {
	n.mu.Lock()
	delete(n.blocked, link{from, to})
	n.mu.Unlock()
}

// Isolate 阻断与 id 相关的所有方向
func (n *Network) Isolate(id types.PeerID) {
	n.mu.Lock()
	for other := range n.peers {
		if other != id {
			n.blocked[link{id, other}] = true
			n.blocked[link{other, id}] = true
		}
	}
	n.mu.Unlock()
}

// SetDrop 设置丢包条件，nil 表示不丢包
func (n *Network) SetDrop(fn DropFunc) {
	n.mu.Lock()
	n.drop = fn
	n.mu.Unlock()
}

// SetObserver 设置消息观察者
func (n *Network) SetObserver(fn ObserveFunc) {
	n.mu.Lock()
	n.observe = fn
	n.mu.Unlock()
}

// SetLatency 设置单向投递延迟
func (n *Network) SetLatency(d time.Duration) {
	n.mu.Lock()
	n.latency = d
	n.mu.Unlock()
}

// Sent 返回已发送消息数
func (n *Network) Sent() int64 { return n.sent.Load() }

// Delivered 返回已投递消息数
func (n *Network) Delivered() int64 { return n.delivered.Load() }

// Quiesce 等待所有在途消息投递完毕
func (n *Network) Quiesce() {
	for n.pending.Load() > 0 {
		time.Sleep(time.Millisecond)
	}
}

func (n *Network) peer(id types.PeerID) *Transport {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

func (n *Network) remove(id types.PeerID) {
	n.mu.Lock()
	delete(n.peers, id)
	n.mu.Unlock()
}

// send 异步投递；被阻断或丢弃的消息静默消失
func (n *Network) send(from, to types.PeerID, msg *types.Message) {
	n.sent.Add(1)

	n.mu.RLock()
	observe, drop, latency := n.observe, n.drop, n.latency
	blocked := n.blocked[link{from, to}]
	n.mu.RUnlock()

	if observe != nil {
		observe(from, to, msg)
	}
	if blocked || (drop != nil && drop(from, to, msg)) {
		return
	}

	cp := &types.Message{Type: msg.Type, Payload: append([]byte(nil), msg.Payload...)}
	n.pending.Add(1)
	go func() {
		defer n.pending.Add(-1)
		if latency > 0 {
			time.Sleep(latency)
		}
		target := n.peer(to)
		if target == nil || target.closed.Load() {
			return
		}
		n.delivered.Add(1)
		target.handlers.Dispatch(from, cp)
	}()
}

// ============================================================================
//                              Transport / Connection
// ============================================================================

// Transport 网络中的一个节点
type Transport struct {
	net      *Network
	info     types.PeerInfo
	handlers *transport.Handlers
	closed   atomic.Bool
}

var _ interfaces.Transport = (*Transport)(nil)

// LocalPeer 实现 interfaces.Transport
func (t *Transport) LocalPeer() types.PeerInfo { return t.info }

// Connect 实现 interfaces.Transport
func (t *Transport) Connect(ctx context.Context, peer types.PeerInfo) (interfaces.Connection, error) {
	if t.closed.Load() {
		return nil, transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.net.peer(peer.ID) == nil {
		return nil, fmt.Errorf("%w: %s", transport.ErrPeerNotFound, peer.ID.ShortString())
	}
	return &conn{local: t, remote: peer}, nil
}

// RegisterHandler 实现 interfaces.Transport
func (t *Transport) RegisterHandler(mt types.MessageType, h interfaces.MessageHandler) func() {
	return t.handlers.Register(mt, h)
}

// HandlerCount 返回指定类型的处理器数
func (t *Transport) HandlerCount(mt types.MessageType) int {
	return t.handlers.Count(mt)
}

// Close 离开网络
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.net.remove(t.info.ID)
	return nil
}

type conn struct {
	local  *Transport
	remote types.PeerInfo
	closed atomic.Bool
}

func (c *conn) RemotePeer() types.PeerInfo { return c.remote }

func (c *conn) Send(ctx context.Context, msg *types.Message) error {
	if c.closed.Load() || c.local.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.local.net.send(c.local.info.ID, c.remote.ID, msg)
	return nil
}

func (c *conn) Close() error {
	c.closed.Store(true)
	return nil
}
