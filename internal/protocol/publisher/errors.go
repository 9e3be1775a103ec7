package publisher

import "errors"

var (
	// ErrNilTransport 未提供传输层
	ErrNilTransport = errors.New("publisher: nil transport")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("publisher: invalid config")

	// ErrNotPublished 流程尚未发布
	ErrNotPublished = errors.New("publisher: pipeline not published")

	// ErrNilProvider 未提供数据源
	ErrNilProvider = errors.New("publisher: nil key provider")
)
