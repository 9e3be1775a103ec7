// Package transport 提供消息传输层的公共部件
//
// 子包 memory 实现进程内网络（测试与嵌入使用，支持故障注入），
// 子包 quic 实现基于 QUIC 的网络传输。两者共享本包的处理器注册表。
package transport
