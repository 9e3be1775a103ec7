// Package query 实现基于泛洪的查询发现
//
// 发起者把 Query 消息发给已知节点；每个节点对未见过的查询调用本地
// 应答器，并把 QueryResult 直接发回发起者，然后在 TTL 允许时继续
// 转发给除上一跳以外的已知节点。查询 ID 通过 LRU 去重。
//
// 使用示例:
//
//	svc, _ := query.New(transport, query.WithKnownPeers(peers...))
//	q := svc.NewQuery(procRef.ID.String())
//	q.Start()
//	_ = q.WaitForResults(ctx, 1)
package query
