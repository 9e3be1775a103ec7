package certificate

import (
	"crypto/ed25519"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// Validator 校验证书：签发者受信任、签名正确、处于有效期内
type Validator struct {
	clk clock.Clock

	mu      sync.RWMutex
	trusted map[string]struct{}
}

var _ interfaces.CertificateValidator = (*Validator)(nil)

// NewValidator 创建校验器
func NewValidator(clk clock.Clock, trusted ...ed25519.PublicKey) *Validator {
	if clk == nil {
		clk = clock.New()
	}
	v := &Validator{clk: clk, trusted: make(map[string]struct{})}
	for _, pub := range trusted {
		v.Trust(pub)
	}
	return v
}

// Trust 添加受信任的签发者
func (v *Validator) Trust(pub ed25519.PublicKey) {
	v.mu.Lock()
	v.trusted[string(pub)] = struct{}{}
	v.mu.Unlock()
}

// IsValid 实现 interfaces.CertificateValidator
func (v *Validator) IsValid(c *types.Certificate) bool {
	if c == nil {
		return false
	}
	v.mu.RLock()
	_, ok := v.trusted[string(c.Issuer)]
	v.mu.RUnlock()
	if !ok {
		return false
	}
	return c.ValidAt(v.clk.Now()) && VerifySignature(c)
}
