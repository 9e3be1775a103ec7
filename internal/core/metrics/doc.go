// Package metrics 提供数据通道传输的统计与指标
//
// TransferCounter 按节点与通道统计下载/上传字节数与速率；
// Collector 在其之上注册 Prometheus 指标（批次、超时、往返时间、键结果）。
// 检索与发布组件只依赖 Recorder 接口，未启用指标时使用 Nop。
package metrics
