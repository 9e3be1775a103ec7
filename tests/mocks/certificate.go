package mocks

import (
	"context"
	"sync"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// MockRetainer 模拟 CertificateRetainer 接口实现
type MockRetainer struct {
	Cert *types.Certificate
	Err  error

	// 可覆盖的方法
	CertificateFunc func(ctx context.Context) (*types.Certificate, error)

	mu    sync.Mutex
	calls int
}

var _ interfaces.CertificateRetainer = (*MockRetainer)(nil)

// Certificate 返回证书
func (m *MockRetainer) Certificate(ctx context.Context) (*types.Certificate, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.CertificateFunc != nil {
		return m.CertificateFunc(ctx)
	}
	return m.Cert, m.Err
}

// Calls 返回调用次数
func (m *MockRetainer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockValidator 模拟 CertificateValidator 接口实现
//
// 默认接受所有非 nil 证书。
type MockValidator struct {
	// 可覆盖的方法
	IsValidFunc func(cert *types.Certificate) bool
}

var _ interfaces.CertificateValidator = (*MockValidator)(nil)

// IsValid 校验证书
func (m *MockValidator) IsValid(cert *types.Certificate) bool {
	if m.IsValidFunc != nil {
		return m.IsValidFunc(cert)
	}
	return cert != nil
}
