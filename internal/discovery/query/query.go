package query

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
)

// liveQuery 实现 interfaces.Query
//
// 每次 Start 使用新的查询 ID，旧 ID 的迟到结果会被忽略。
type liveQuery struct {
	svc    *Service
	search string

	mu        sync.Mutex
	id        uuid.UUID
	started   bool
	startedAt time.Time
	results   []interfaces.QueryResult
	filter    interfaces.QueryFilter
	changed   chan struct{}
}

var _ interfaces.Query = (*liveQuery)(nil)

func (q *liveQuery) Search() string { return q.search }

func (q *liveQuery) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	id := uuid.New()
	q.id = id
	q.started = true
	q.startedAt = q.svc.cfg.Clock.Now()
	q.mu.Unlock()

	if !q.svc.activate(id, q) {
		return
	}
	logger.Debug("开始查询", "search", q.search, "id", id)
	q.svc.flood(&pb.Query{
		ID:     id,
		Search: q.search,
		Origin: q.svc.transport.LocalPeer(),
		TTL:    uint32(q.svc.cfg.TTL),
	})
}

func (q *liveQuery) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	id := q.id
	q.mu.Unlock()
	q.svc.deactivate(id)
}

func (q *liveQuery) Started() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started
}

func (q *liveQuery) StartedAt() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.startedAt
}

func (q *liveQuery) Results() []interfaces.QueryResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]interfaces.QueryResult, len(q.results))
	copy(out, q.results)
	return out
}

func (q *liveQuery) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.results)
}

func (q *liveQuery) Clear() {
	q.mu.Lock()
	q.results = nil
	q.mu.Unlock()
}

func (q *liveQuery) SetFilter(f interfaces.QueryFilter) {
	q.mu.Lock()
	q.filter = f
	q.mu.Unlock()
}

func (q *liveQuery) WaitForResults(ctx context.Context, n int) error {
	for {
		q.mu.Lock()
		if len(q.results) >= n {
			q.mu.Unlock()
			return nil
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// add 追加结果；过滤器在锁外调用，可以安全地回调查询方法
func (q *liveQuery) add(id uuid.UUID, r interfaces.QueryResult) {
	q.mu.Lock()
	if !q.started || q.id != id || q.hasLocked(r) {
		q.mu.Unlock()
		return
	}
	filter := q.filter
	q.mu.Unlock()

	if filter != nil && !filter(r) {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started || q.id != id || q.hasLocked(r) {
		return
	}
	q.results = append(q.results, r)
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *liveQuery) hasLocked(r interfaces.QueryResult) bool {
	for _, x := range q.results {
		if x.Peer.ID == r.Peer.ID && x.DataSet == r.DataSet {
			return true
		}
	}
	return false
}
