package interfaces

import (
	"context"
	"time"

	"github.com/dep2p/go-chanfetch/pkg/types"
)

// QueryResult 查询结果
type QueryResult struct {
	// Peer 应答节点
	Peer types.PeerInfo

	// DataSet 结果对应的数据集
	DataSet types.DataSetID

	// Extra 附加信息（编码后的 ExtraInfo，通常是通道公告）
	Extra []byte
}

// QueryFilter 结果过滤器，返回 false 表示拒绝该结果
type QueryFilter func(r QueryResult) bool

// Query 一次实时的发现查询
//
// 查询启动后结果会持续增长，直到 Stop 或 Clear。
type Query interface {
	// Search 返回查询字符串
	Search() string

	// Start 启动查询
	Start()

	// Stop 停止查询，不再接收新结果
	Stop()

	// Started 查询是否处于运行中
	Started() bool

	// StartedAt 返回最近一次启动时间
	StartedAt() time.Time

	// Results 返回当前结果快照
	Results() []QueryResult

	// Count 返回当前结果数
	Count() int

	// Clear 清空已有结果
	Clear()

	// SetFilter 设置结果过滤器（在追加前调用）
	SetFilter(f QueryFilter)

	// WaitForResults 阻塞直到结果数不少于 n 或 ctx 结束
	WaitForResults(ctx context.Context, n int) error
}

// Discovery 发现服务
type Discovery interface {
	// NewQuery 创建一个尚未启动的查询
	NewQuery(search string) Query
}

// QueryMatch 本地应答器对一次查询的匹配
type QueryMatch struct {
	DataSet types.DataSetID
	Extra   []byte
}

// QueryResponder 本地查询应答器
type QueryResponder interface {
	// MatchQuery 返回与查询字符串匹配的本地数据集
	MatchQuery(search string) []QueryMatch
}
