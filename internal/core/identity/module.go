package identity

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-chanfetch/config"
	"github.com/dep2p/go-chanfetch/pkg/lib/log"
)

var logger = log.Logger("core/identity")

// ModuleInput 模块输入依赖
type ModuleInput struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Module 身份 Fx 模块
var Module = fx.Module("identity",
	fx.Provide(ProvideIdentity),
)

// ProvideIdentity 按配置加载或生成身份
//
// 未配置 KeyFile 时生成临时身份。
func ProvideIdentity(in ModuleInput) (*Identity, error) {
	if in.UnifiedCfg == nil || in.UnifiedCfg.Identity.KeyFile == "" {
		id, err := Generate()
		if err != nil {
			return nil, err
		}
		logger.Debug("使用临时节点身份", "peer", id.ID().ShortString())
		return id, nil
	}
	return LoadOrGenerate(in.UnifiedCfg.Identity.KeyFile)
}
