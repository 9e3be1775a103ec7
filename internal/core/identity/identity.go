// Package identity 管理节点身份（ed25519 密钥对）
//
// PeerID 由公钥派生，QUIC 传输用同一私钥生成自签名 TLS 证书，
// 证书签发者也使用该身份签名。
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/dep2p/go-chanfetch/pkg/types"
)

// 错误定义
var (
	// ErrInvalidPEM 无效的 PEM 数据
	ErrInvalidPEM = errors.New("identity: invalid PEM data")
	// ErrInvalidKey 私钥长度不正确
	ErrInvalidKey = errors.New("identity: invalid ed25519 private key")
)

// Identity 节点身份
type Identity struct {
	priv ed25519.PrivateKey
	id   types.PeerID
}

// New 从私钥创建身份
func New(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{priv: priv, id: types.PeerIDFromPublicKey(pub)}, nil
}

// Generate 生成新身份
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return New(priv)
}

// ID 返回节点 ID
func (i *Identity) ID() types.PeerID { return i.id }

// PrivateKey 返回私钥
func (i *Identity) PrivateKey() ed25519.PrivateKey { return i.priv }

// PublicKey 返回公钥
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.priv.Public().(ed25519.PublicKey)
}

// Sign 签名数据
func (i *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(i.priv, data)
}
