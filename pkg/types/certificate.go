package types

import (
	"crypto/ed25519"
	"time"
)

// Certificate 资源使用证书
//
// 由 Issuer 签发，授权 Subject 节点获取 Resource 指定的流程数据。
type Certificate struct {
	Issuer    ed25519.PublicKey
	Subject   PeerID
	Resource  ProcRef
	NotBefore time.Time
	NotAfter  time.Time
	Signature []byte
}

// ValidAt 检查证书在给定时间是否处于有效期内
func (c *Certificate) ValidAt(t time.Time) bool {
	if c == nil {
		return false
	}
	return !t.Before(c.NotBefore) && t.Before(c.NotAfter)
}

// Covers 检查证书是否授权指定流程
func (c *Certificate) Covers(ref ProcRef) bool {
	return c != nil && c.Resource == ref
}
