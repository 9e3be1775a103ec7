// Package channel 提供数据通道的统一访问入口
//
// Channel 把本地数据源（KeyProvider）与远端检索（retrieval.Downloader）
// 合并在同一个标识下：
//
//	ch := registry.Create(id)
//	ch.AttachLocal(store.Channel(id))
//	ch.Publish(definition, nil)          // 对外发布
//	v, err := ch.GetKey(ctx, "k", channel.FromAny)
//
// 每次取值都会在事件总线上发出 EvtKeyRequested，随后恰好一个
// EvtKeyProvided 或 EvtKeyFailed。
package channel
