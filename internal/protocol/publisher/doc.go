// Package publisher 实现通道数据的发布端应答器
//
// 发布表按 (流程 GUID, 版本) 组织，每个流程下按通道码挂载 KeyProvider。
// 应答器处理四类入站请求：
//
//	DataInfoRequest  + KeyRequest       → DataInfo（单键存在性与长度）
//	DataInfoRequest  + MultiKeyRequest  → DataInfo + MultiKeyInfo（逐键存在性与长度）
//	DataChunkRequest + KeyRequest       → DataChunk（[offset, offset+size) 的切片）
//	DataChunkRequest + MultiKeyRequest  → DataChunk（在 size 预算内拼接的完整值）
//
// 未发布的流程或通道不回复。下载请求可以要求携带证书，由
// CertificateValidator 校验。同时作为查询应答器，用通道公告回应
// 与流程 GUID（或名称/描述关键字）匹配的发现查询。
package publisher
