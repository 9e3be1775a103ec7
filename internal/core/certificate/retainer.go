package certificate

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jpillora/backoff"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/lib/log"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

var logger = log.Logger("core/certificate")

// Source 证书来源
type Source interface {
	Fetch(ctx context.Context) (*types.Certificate, error)
}

// SourceFunc 函数适配器
type SourceFunc func(ctx context.Context) (*types.Certificate, error)

// Fetch 实现 Source
func (f SourceFunc) Fetch(ctx context.Context) (*types.Certificate, error) { return f(ctx) }

// FileSource 从文件读取证书，每次调用都重新读取
func FileSource(path string) Source {
	return SourceFunc(func(context.Context) (*types.Certificate, error) {
		return LoadFile(path)
	})
}

// Retainer 持有本节点证书
//
// 证书距到期不足 refreshBefore 时从 Source 刷新；刷新失败后按指数退避
// 推迟下一次尝试，期间继续返回仍在有效期内的旧证书。
type Retainer struct {
	src           Source
	clk           clock.Clock
	refreshBefore time.Duration

	mu          sync.Mutex
	cert        *types.Certificate
	nextAttempt time.Time
	backoff     *backoff.Backoff
}

var _ interfaces.CertificateRetainer = (*Retainer)(nil)

// NewRetainer 创建 Retainer
func NewRetainer(src Source, clk clock.Clock, refreshBefore time.Duration) *Retainer {
	if clk == nil {
		clk = clock.New()
	}
	return &Retainer{
		src:           src,
		clk:           clk,
		refreshBefore: refreshBefore,
		backoff: &backoff.Backoff{
			Min:    500 * time.Millisecond,
			Max:    time.Minute,
			Factor: 2,
		},
	}
}

// Certificate 实现 interfaces.CertificateRetainer
func (r *Retainer) Certificate(ctx context.Context) (*types.Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	if r.cert != nil && now.Before(r.cert.NotAfter.Add(-r.refreshBefore)) {
		return r.cert, nil
	}
	if now.Before(r.nextAttempt) {
		return r.usable(now)
	}

	cert, err := r.src.Fetch(ctx)
	if err != nil {
		wait := r.backoff.Duration()
		r.nextAttempt = now.Add(wait)
		logger.Warn("刷新证书失败", "error", err, "retryIn", wait)
		if c, uerr := r.usable(now); uerr == nil {
			return c, nil
		}
		return nil, err
	}
	r.backoff.Reset()
	r.nextAttempt = time.Time{}
	r.cert = cert
	logger.Debug("证书已刷新", "resource", cert.Resource, "notAfter", cert.NotAfter)
	return cert, nil
}

// usable 返回仍在有效期内的缓存证书（调用方持锁）
func (r *Retainer) usable(now time.Time) (*types.Certificate, error) {
	if r.cert != nil && r.cert.ValidAt(now) {
		return r.cert, nil
	}
	return nil, ErrNoCertificate
}
