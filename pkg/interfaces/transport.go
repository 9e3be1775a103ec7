package interfaces

import (
	"context"

	"github.com/dep2p/go-chanfetch/pkg/types"
)

// MessageHandler 入站消息处理器
//
// 处理器应尽快返回；同一类型可注册多个处理器，每个都会收到消息。
type MessageHandler func(from types.PeerID, msg *types.Message)

// Connection 到远端节点的消息连接
type Connection interface {
	// RemotePeer 返回远端节点信息
	RemotePeer() types.PeerInfo

	// Send 发送一条消息，不等待应答
	Send(ctx context.Context, msg *types.Message) error

	// Close 关闭连接
	Close() error
}

// Transport 消息传输层
//
// 投递是异步的，不保证顺序，也不保证送达。
type Transport interface {
	// LocalPeer 返回本节点信息
	LocalPeer() types.PeerInfo

	// Connect 建立（或复用）到指定节点的连接
	Connect(ctx context.Context, peer types.PeerInfo) (Connection, error)

	// RegisterHandler 注册入站消息处理器，返回注销函数
	RegisterHandler(t types.MessageType, h MessageHandler) (unregister func())

	// Close 关闭传输层
	Close() error
}
