package mocks

import (
	"context"
	"sync"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// MockTransport 模拟 Transport 接口实现
//
// 默认 Connect 为每个节点返回同一个 MockConnection；Deliver 同步调用
// 已注册的处理器，模拟一条入站消息。
type MockTransport struct {
	Local types.PeerInfo

	// 可覆盖的方法
	ConnectFunc func(ctx context.Context, peer types.PeerInfo) (interfaces.Connection, error)
	CloseFunc   func() error

	mu       sync.Mutex
	conns    map[types.PeerID]*MockConnection
	handlers map[types.MessageType]map[int]interfaces.MessageHandler
	nextID   int

	// 调用记录
	ConnectCalls []types.PeerID
}

var _ interfaces.Transport = (*MockTransport)(nil)

// NewMockTransport 创建本节点为 local 的 MockTransport
func NewMockTransport(local types.PeerID) *MockTransport {
	return &MockTransport{
		Local:    types.PeerInfo{ID: local},
		conns:    make(map[types.PeerID]*MockConnection),
		handlers: make(map[types.MessageType]map[int]interfaces.MessageHandler),
	}
}

// LocalPeer 返回本节点信息
func (m *MockTransport) LocalPeer() types.PeerInfo { return m.Local }

// Connect 返回到 peer 的连接
func (m *MockTransport) Connect(ctx context.Context, peer types.PeerInfo) (interfaces.Connection, error) {
	m.mu.Lock()
	m.ConnectCalls = append(m.ConnectCalls, peer.ID)
	m.mu.Unlock()

	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx, peer)
	}
	return m.Conn(peer), nil
}

// Conn 返回（必要时创建）到 peer 的 MockConnection
func (m *MockTransport) Conn(peer types.PeerInfo) *MockConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[peer.ID]
	if !ok {
		c = NewMockConnection(peer)
		m.conns[peer.ID] = c
	}
	return c
}

// RegisterHandler 注册处理器
func (m *MockTransport) RegisterHandler(t types.MessageType, h interfaces.MessageHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	if m.handlers[t] == nil {
		m.handlers[t] = make(map[int]interfaces.MessageHandler)
	}
	m.handlers[t][id] = h
	return func() {
		m.mu.Lock()
		delete(m.handlers[t], id)
		m.mu.Unlock()
	}
}

// HandlerCount 返回指定类型的处理器数
func (m *MockTransport) HandlerCount(t types.MessageType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[t])
}

// Deliver 把一条来自 from 的消息交给已注册的处理器
func (m *MockTransport) Deliver(from types.PeerID, msg *types.Message) {
	m.mu.Lock()
	hs := make([]interfaces.MessageHandler, 0, len(m.handlers[msg.Type]))
	for _, h := range m.handlers[msg.Type] {
		hs = append(hs, h)
	}
	m.mu.Unlock()

	for _, h := range hs {
		h(from, msg)
	}
}

// Close 关闭传输
func (m *MockTransport) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}
