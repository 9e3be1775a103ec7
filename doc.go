// Package chanfetch 提供 P2P 数据通道的键检索节点
//
// 数据通道由流程引用（流程 GUID + 版本）和通道代码标识。远端节点对外发布通道，
// 本节点通过泛洪查询发现发布者，逐个询问键是否存在及其长度，再按块下载并组装。
// 小键会被打包成多键请求，慢节点与无应答节点按 RTT 自适应超时淘汰。
//
// # 快速开始
//
//	node, err := chanfetch.Start(ctx,
//	    chanfetch.WithConfigFile("chanfetch.json"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	// 从远端取值
//	ch := node.Channel(id)
//	value, err := ch.GetKey(ctx, "tile/3/4", channel.FromAny)
//
//	// 对外发布本地数据
//	src := node.Store().Channel(id)
//	_ = src.Put("tile/3/4", data)
//	_ = ch.AttachLocal(src)
//	_ = ch.Publish(definition, nil)
//
// # 组件
//
//   - 传输: QUIC（默认）或调用方提供的 interfaces.Transport
//   - 发现: 基于已知节点的泛洪查询
//   - 检索: 每个通道一个下载器，管理发布者状态、批量请求与重试
//   - 发布: 应答键信息与数据块请求，带热键缓存与证书检查
//   - 存储: BadgerDB，可作为通道的本地数据源
//
// 所有组件通过 Fx 装配，随节点的 Start / Close 启停。
package chanfetch
