package transport

import "errors"

var (
	// ErrClosed 传输或连接已关闭
	ErrClosed = errors.New("transport: closed")

	// ErrPeerNotFound 目标节点不可达
	ErrPeerNotFound = errors.New("transport: peer not found")

	// ErrPeerIDMismatch 对端身份与预期不符
	ErrPeerIDMismatch = errors.New("transport: peer ID mismatch")

	// ErrMessageTooLarge 消息超过上限
	ErrMessageTooLarge = errors.New("transport: message too large")

	// ErrNoAddress 节点没有可拨号的地址
	ErrNoAddress = errors.New("transport: peer has no dialable address")
)
