package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
)

// MockDiscovery 模拟 Discovery 接口实现
//
// 同一查询字符串总是返回同一个 MockQuery，测试可以提前拿到它注入结果。
type MockDiscovery struct {
	// 可覆盖的方法
	NewQueryFunc func(search string) interfaces.Query

	mu      sync.Mutex
	queries map[string]*MockQuery

	// 调用记录
	NewQueryCalls []string
}

var _ interfaces.Discovery = (*MockDiscovery)(nil)

// NewMockDiscovery 创建 MockDiscovery
func NewMockDiscovery() *MockDiscovery {
	return &MockDiscovery{queries: make(map[string]*MockQuery)}
}

// NewQuery 返回查询字符串对应的 MockQuery
func (m *MockDiscovery) NewQuery(search string) interfaces.Query {
	m.mu.Lock()
	m.NewQueryCalls = append(m.NewQueryCalls, search)
	m.mu.Unlock()

	if m.NewQueryFunc != nil {
		return m.NewQueryFunc(search)
	}
	return m.Query(search)
}

// Query 返回（必要时创建）查询字符串对应的 MockQuery
func (m *MockDiscovery) Query(search string) *MockQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queries[search]
	if !ok {
		q = NewMockQuery(search)
		m.queries[search] = q
	}
	return q
}

// MockQuery 模拟 Query 接口实现
//
// 结果只通过 AddResult 进入；过滤器在锁外调用。
type MockQuery struct {
	search string

	// Now 返回启动时间，默认 time.Now
	Now func() time.Time

	mu        sync.Mutex
	started   bool
	startedAt time.Time
	results   []interfaces.QueryResult
	filter    interfaces.QueryFilter
	changed   chan struct{}

	// 调用记录
	StartCalls int
	StopCalls  int
}

var _ interfaces.Query = (*MockQuery)(nil)

// NewMockQuery 创建 MockQuery
func NewMockQuery(search string) *MockQuery {
	return &MockQuery{search: search, Now: time.Now, changed: make(chan struct{})}
}

// Search 返回查询字符串
func (q *MockQuery) Search() string { return q.search }

// Start 启动查询
func (q *MockQuery) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.StartCalls++
	q.started = true
	q.startedAt = q.Now()
}

// Stop 停止查询
func (q *MockQuery) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.StopCalls++
	q.started = false
}

// Started 查询是否运行中
func (q *MockQuery) Started() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started
}

// StartedAt 返回最近一次启动时间
func (q *MockQuery) StartedAt() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.startedAt
}

// Results 返回结果快照
func (q *MockQuery) Results() []interfaces.QueryResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]interfaces.QueryResult(nil), q.results...)
}

// Count 返回结果数
func (q *MockQuery) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.results)
}

// Clear 清空结果
func (q *MockQuery) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = nil
}

// SetFilter 设置过滤器
func (q *MockQuery) SetFilter(f interfaces.QueryFilter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.filter = f
}

// AddResult 注入一条结果，返回是否通过过滤器
//
// 与真实查询不同，未启动时同样接受结果。
func (q *MockQuery) AddResult(r interfaces.QueryResult) bool {
	q.mu.Lock()
	filter := q.filter
	q.mu.Unlock()

	if filter != nil && !filter(r) {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, r)
	close(q.changed)
	q.changed = make(chan struct{})
	return true
}

// WaitForResults 阻塞直到结果数不少于 n 或 ctx 结束
func (q *MockQuery) WaitForResults(ctx context.Context, n int) error {
	for {
		q.mu.Lock()
		count, changed := len(q.results), q.changed
		q.mu.Unlock()
		if count >= n {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
