// Package interfaces 定义 chanfetch 的公共接口
//
// 检索引擎只依赖本包中的窄接口：传输（Transport / Connection）、
// 发现（Discovery / Query）、证书（CertificateRetainer / CertificateValidator）、
// 数据源（KeyProvider）与事件总线（EventBus）。
// internal/ 下提供这些接口的参考实现。
package interfaces
