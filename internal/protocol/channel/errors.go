package channel

import (
	"errors"

	"github.com/dep2p/go-chanfetch/internal/protocol/retrieval"
)

var (
	// ErrKeyNotFound 键不存在（与 retrieval.ErrKeyNotFound 相同，便于 errors.Is 统一判断）
	ErrKeyNotFound = retrieval.ErrKeyNotFound

	// ErrNoLocalSource 通道没有挂接本地数据源
	ErrNoLocalSource = errors.New("channel: no local source attached")

	// ErrNoPublisher 节点未启用发布服务
	ErrNoPublisher = errors.New("channel: publisher not available")

	// ErrInvalidSource 取值来源为空
	ErrInvalidSource = errors.New("channel: invalid source")

	// ErrNilManager 缺少检索管理器
	ErrNilManager = errors.New("channel: retrieval manager is required")

	// ErrRegistryClosed 注册表已关闭
	ErrRegistryClosed = errors.New("channel: registry closed")
)
