package interfaces

import "context"

// KeyProvider 通道值提供者
type KeyProvider interface {
	// GetKey 返回值；键不存在时返回 (nil, false, nil)
	GetKey(ctx context.Context, key string) ([]byte, bool, error)
}

// KeyProviderFunc 函数适配器
type KeyProviderFunc func(ctx context.Context, key string) ([]byte, bool, error)

// GetKey 实现 KeyProvider
func (f KeyProviderFunc) GetKey(ctx context.Context, key string) ([]byte, bool, error) {
	return f(ctx, key)
}
