// Package mocks 提供统一的测试 Mock 实现
//
// 每个 Mock 都支持通过 XxxFunc 字段注入自定义行为，并记录关键调用，
// 所有方法都可以被并发调用。
//
// # 传输 Mock
//
//   - MockTransport: 模拟 interfaces.Transport，可直接向已注册的处理器投递消息
//   - MockConnection: 模拟 interfaces.Connection，记录发送的消息
//
// # 发现 Mock
//
//   - MockDiscovery: 模拟 interfaces.Discovery，按查询字符串返回 MockQuery
//   - MockQuery: 模拟 interfaces.Query，结果由测试通过 AddResult 注入
//
// # 证书与数据源 Mock
//
//   - MockRetainer: 模拟 interfaces.CertificateRetainer
//   - MockValidator: 模拟 interfaces.CertificateValidator
//   - MockKeyProvider: 基于 map 的 interfaces.KeyProvider
//
// # 使用示例
//
//	disc := mocks.NewMockDiscovery()
//	q := disc.Query(guid.String())
//	q.AddResult(interfaces.QueryResult{Peer: peer, DataSet: guid, Extra: extra})
//
//	provider := mocks.NewMockKeyProvider()
//	provider.Set("k", []byte("v"))
//	provider.GetKeyFunc = func(ctx context.Context, key string) ([]byte, bool, error) {
//	    return nil, false, errors.New("disk failure")
//	}
package mocks
