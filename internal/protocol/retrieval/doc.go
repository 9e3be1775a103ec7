// Package retrieval 实现通道键值的检索引擎（下载端）
//
// 一个 Downloader 负责一个通道。它通过 DiscoverySet 维护发布者名单，
// 为每个发布者维护一条请求流水线（publisherState），把调用方的键请求
// 批量地发往负载最小的发布者：先搜索（键是否存在、长度），再下载
// （小值合并为多键批次，大值切块）。
//
// # 流程
//
//	GetKeyAsync ──► KeyRequest ──► searchBatch ──► DataInfo 应答
//	                                   │
//	                        found ──► chunk ──► downloadBatch ──► DataChunk 应答
//	                                                                │
//	                                         缓冲区写满 ──► 完成并回调
//
// # 容错
//
// 每个发布者独立估计往返时间，超时为 2×平均值并限制在 [5s, 30s]，
// 样本不足 3 个时固定为 30s。超时的搜索在同一发布者上重发；
// 超时的块重试 2 次后转交其他发布者（searchAgain）。
// 所有发布者都回答未找到时，请求以 ErrKeyNotFound 失败。
//
// # 并发
//
// 每个 Downloader 只有一把锁，保护发布者表、队列与请求表。
// 消息在锁内组装、锁外发送；连接在锁外建立；完成回调在独立的
// goroutine 中按注册顺序依次执行。
package retrieval
