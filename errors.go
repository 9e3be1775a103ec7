package chanfetch

import (
	"errors"

	"github.com/dep2p/go-chanfetch/internal/protocol/channel"
	"github.com/dep2p/go-chanfetch/internal/protocol/retrieval"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ────────────────────────────────────────────────────────────────────────
	// 检索错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrKeyNotFound 所有发布者都没有该键
	ErrKeyNotFound = channel.ErrKeyNotFound

	// ErrNoPublishers 没有找到通道的发布者
	ErrNoPublishers = retrieval.ErrNoPublishers
)
