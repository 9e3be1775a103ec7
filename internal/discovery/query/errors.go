package query

import "errors"

var (
	// ErrNilTransport 未提供传输层
	ErrNilTransport = errors.New("query: nil transport")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("query: invalid config")

	// ErrClosed 服务已关闭
	ErrClosed = errors.New("query: service closed")
)
