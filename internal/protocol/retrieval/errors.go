package retrieval

import "errors"

var (
	// ErrNoPublishers 发现阶段没有找到（或无法连接）任何发布者
	ErrNoPublishers = errors.New("retrieval: no publishers found for channel")

	// ErrKeyNotFound 所有已知发布者都没有确认该键
	ErrKeyNotFound = errors.New("retrieval: key not found over the network")

	// ErrCancelled 请求被调用方取消
	ErrCancelled = errors.New("retrieval: request cancelled")

	// ErrDownloaderClosed 下载器已关闭
	ErrDownloaderClosed = errors.New("retrieval: downloader closed")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("retrieval: invalid config")
)
