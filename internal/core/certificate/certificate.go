// Package certificate 实现资源使用证书
//
// 签发者（Authority）用 ed25519 对证书摘要签名；发布端用 Validator
// 校验请求方出示的证书；请求方通过 Retainer 持有并按需刷新自己的证书。
package certificate

import (
	"crypto/ed25519"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/minio/sha256-simd"
	"github.com/mr-tron/base58"

	"github.com/dep2p/go-chanfetch/internal/core/identity"
	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// 错误定义
var (
	// ErrNoCertificate 没有可用证书
	ErrNoCertificate = errors.New("certificate: no certificate available")
	// ErrInvalidIssuer 签发者公钥格式错误
	ErrInvalidIssuer = errors.New("certificate: invalid issuer key")
	// ErrInvalidPEM 证书文件格式错误
	ErrInvalidPEM = errors.New("certificate: invalid PEM data")
)

const pemType = "CHANFETCH CERTIFICATE"

// Digest 返回证书待签名内容的 SHA-256 摘要
func Digest(c *types.Certificate) [sha256.Size]byte {
	return sha256.Sum256(pb.CertificateSigningBytes(c))
}

// VerifySignature 校验证书签名
func VerifySignature(c *types.Certificate) bool {
	if c == nil || len(c.Issuer) != ed25519.PublicKeySize {
		return false
	}
	d := Digest(c)
	return ed25519.Verify(c.Issuer, d[:], c.Signature)
}

// ============================================================================
//                              Authority
// ============================================================================

// Authority 证书签发者
type Authority struct {
	id  *identity.Identity
	clk clock.Clock
}

// NewAuthority 创建签发者
func NewAuthority(id *identity.Identity, clk clock.Clock) *Authority {
	if clk == nil {
		clk = clock.New()
	}
	return &Authority{id: id, clk: clk}
}

// PublicKey 返回签发者公钥
func (a *Authority) PublicKey() ed25519.PublicKey { return a.id.PublicKey() }

// Issue 为 subject 签发访问 resource 的证书，有效期从当前起 ttl
func (a *Authority) Issue(subject types.PeerID, resource types.ProcRef, ttl time.Duration) *types.Certificate {
	now := a.clk.Now()
	c := &types.Certificate{
		Issuer:    a.id.PublicKey(),
		Subject:   subject,
		Resource:  resource,
		NotBefore: now,
		NotAfter:  now.Add(ttl),
	}
	d := Digest(c)
	c.Signature = a.id.Sign(d[:])
	return c
}

// ============================================================================
//                              编码
// ============================================================================

// EncodeIssuer 以 Base58 编码签发者公钥
func EncodeIssuer(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// ParseIssuer 解析 Base58 编码的签发者公钥
func ParseIssuer(s string) (ed25519.PublicKey, error) {
	b, err := base58.Decode(s)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIssuer, s)
	}
	return ed25519.PublicKey(b), nil
}

// EncodePEM 以 PEM 编码证书
func EncodePEM(c *types.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: pb.MarshalCertificate(c)})
}

// DecodePEM 解析 PEM 编码的证书
func DecodePEM(data []byte) (*types.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemType {
		return nil, ErrInvalidPEM
	}
	return pb.UnmarshalCertificate(block.Bytes)
}

// LoadFile 从文件读取证书
func LoadFile(path string) (*types.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodePEM(data)
}
