package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-chanfetch/config"
)

// Params Storage 模块依赖参数
type Params struct {
	fx.In

	LC         fx.Lifecycle
	UnifiedCfg *config.Config `optional:"true"`
}

// Module 返回 Storage Fx 模块
//
// 生命周期:
//   - OnStop: 关闭存储
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideStorage),
	)
}

// ProvideStorage 按配置打开存储并注册关闭钩子
func ProvideStorage(p Params) (*Store, error) {
	path := ""
	if p.UnifiedCfg != nil {
		path = p.UnifiedCfg.Storage.DBPath()
	}
	s, err := Open(DefaultOptions(path))
	if err != nil {
		logger.Error("打开存储失败", "path", path, "error", err)
		return nil, err
	}
	p.LC.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			logger.Info("正在关闭存储")
			return s.Close()
		},
	})
	return s, nil
}
