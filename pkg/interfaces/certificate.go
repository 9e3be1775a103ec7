package interfaces

import (
	"context"

	"github.com/dep2p/go-chanfetch/pkg/types"
)

// CertificateRetainer 持有本节点的使用证书
type CertificateRetainer interface {
	// Certificate 返回当前证书，可能触发刷新
	Certificate(ctx context.Context) (*types.Certificate, error)
}

// CertificateValidator 校验对端出示的证书
type CertificateValidator interface {
	// IsValid 证书签名可信且仍处于有效期
	IsValid(cert *types.Certificate) bool
}
