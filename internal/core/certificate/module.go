package certificate

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Clock      clock.Clock    `optional:"true"`
}

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Validator interfaces.CertificateValidator
	Retainer  interfaces.CertificateRetainer
}

// Module 证书 Fx 模块
var Module = fx.Module("certificate",
	fx.Provide(ProvideCertificates),
)

// ProvideCertificates 按配置构造校验器与 Retainer
//
// 未配置证书文件时 Retainer 总是返回 ErrNoCertificate。
func ProvideCertificates(in ModuleInput) (ModuleOutput, error) {
	cfg := config.DefaultCertificateConfig()
	if in.UnifiedCfg != nil {
		cfg = in.UnifiedCfg.Certificate
	}

	v := NewValidator(in.Clock)
	for _, s := range cfg.TrustedIssuers {
		pub, err := ParseIssuer(s)
		if err != nil {
			return ModuleOutput{}, err
		}
		v.Trust(pub)
	}

	var src Source = SourceFunc(func(context.Context) (*types.Certificate, error) {
		return nil, ErrNoCertificate
	})
	if cfg.File != "" {
		src = FileSource(cfg.File)
	}

	return ModuleOutput{
		Validator: v,
		Retainer:  NewRetainer(src, in.Clock, time.Duration(cfg.RefreshBefore)),
	}, nil
}
