package storage

import "errors"

var (
	// ErrClosed 存储已关闭
	ErrClosed = errors.New("storage: closed")

	// ErrEmptyKey 键为空
	ErrEmptyKey = errors.New("storage: empty key")
)
