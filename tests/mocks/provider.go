package mocks

import (
	"context"
	"sync"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
)

// MockKeyProvider 基于 map 的 KeyProvider
type MockKeyProvider struct {
	// 可覆盖的方法
	GetKeyFunc func(ctx context.Context, key string) ([]byte, bool, error)

	mu     sync.Mutex
	values map[string][]byte
	calls  map[string]int
}

var _ interfaces.KeyProvider = (*MockKeyProvider)(nil)

// NewMockKeyProvider 创建 MockKeyProvider
func NewMockKeyProvider() *MockKeyProvider {
	return &MockKeyProvider{
		values: make(map[string][]byte),
		calls:  make(map[string]int),
	}
}

// Set 设置键值
func (m *MockKeyProvider) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// GetKey 返回键值
func (m *MockKeyProvider) GetKey(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	m.calls[key]++
	v, ok := m.values[key]
	m.mu.Unlock()

	if m.GetKeyFunc != nil {
		return m.GetKeyFunc(ctx, key)
	}
	return v, ok, nil
}

// Calls 返回某键的查找次数
func (m *MockKeyProvider) Calls(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}
