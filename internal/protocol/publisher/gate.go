package publisher

import (
	"golang.org/x/time/rate"

	"github.com/dep2p/go-chanfetch/pkg/types"
)

// 拒绝原因（用于指标标签）
const (
	rejectRateLimited  = "rate_limited"
	rejectNoCert       = "no_certificate"
	rejectExpiredCert  = "expired_certificate"
	rejectInvalidCert  = "invalid_certificate"
	rejectWrongProc    = "wrong_resource"
	rejectWrongSubject = "wrong_subject"
)

// authorize 校验下载请求携带的证书，返回拒绝原因；空串表示通过
func (s *Publisher) authorize(from types.PeerID, ref types.ProcRef, cert *types.Certificate) string {
	if !s.cfg.EnforceCertificates {
		return ""
	}
	switch {
	case cert == nil:
		return rejectNoCert
	case !cert.ValidAt(s.cfg.Clock.Now()):
		return rejectExpiredCert
	case s.validator == nil || !s.validator.IsValid(cert):
		return rejectInvalidCert
	case !cert.Covers(ref):
		return rejectWrongProc
	case cert.Subject != from:
		return rejectWrongSubject
	}
	return ""
}

// allow 按请求方限速
func (s *Publisher) allow(from types.PeerID) bool {
	if s.limiters == nil {
		return true
	}
	lim := rate.NewLimiter(rate.Limit(s.cfg.RatePerPeer), s.cfg.RateBurst)
	if prev, ok, _ := s.limiters.PeekOrAdd(from, lim); ok {
		lim = prev
	}
	return lim.AllowN(s.cfg.Clock.Now(), 1)
}
