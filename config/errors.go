package config

import (
	"errors"
	"fmt"
)

// ErrNilConfig 配置为 nil
var ErrNilConfig = errors.New("config: config is nil")

// FieldError 字段校验错误
type FieldError struct {
	Field  string
	Index  int // 列表字段的下标，非列表字段为 -1
	Reason string
}

// Error 实现 error 接口
func (e *FieldError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("config: %s[%d]: %s", e.Field, e.Index, e.Reason)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &FieldError{Field: field, Index: -1, Reason: reason}
}
