package mocks

import (
	"context"
	"sync"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// MockConnection 模拟 Connection 接口实现
type MockConnection struct {
	Remote types.PeerInfo

	// 可覆盖的方法
	SendFunc  func(ctx context.Context, msg *types.Message) error
	CloseFunc func() error

	mu     sync.Mutex
	sent   []*types.Message
	closed bool
}

var _ interfaces.Connection = (*MockConnection)(nil)

// NewMockConnection 创建连接到 remote 的 MockConnection
func NewMockConnection(remote types.PeerInfo) *MockConnection {
	return &MockConnection{Remote: remote}
}

// RemotePeer 返回远端节点信息
func (m *MockConnection) RemotePeer() types.PeerInfo { return m.Remote }

// Send 记录消息
func (m *MockConnection) Send(ctx context.Context, msg *types.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return nil
}

// Close 关闭连接
func (m *MockConnection) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Sent 返回已发送消息的快照
func (m *MockConnection) Sent() []*types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.Message(nil), m.sent...)
}

// SentOfType 返回指定类型的已发送消息
func (m *MockConnection) SentOfType(t types.MessageType) []*types.Message {
	var out []*types.Message
	for _, msg := range m.Sent() {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

// IsClosed 连接是否已关闭
func (m *MockConnection) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
