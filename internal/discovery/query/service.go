package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/lib/log"
	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

var logger = log.Logger("discovery/query")

// Service 泛洪查询发现服务
type Service struct {
	transport interfaces.Transport
	cfg       *Config
	seen      *lru.Cache[uuid.UUID, struct{}]

	mu         sync.RWMutex
	known      []types.PeerInfo
	responders []interfaces.QueryResponder
	active     map[uuid.UUID]*liveQuery
	closed     bool

	unregister []func()
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

var _ interfaces.Discovery = (*Service)(nil)

// New 创建查询服务并注册消息处理器
func New(t interfaces.Transport, opts ...Option) (*Service, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewWithConfig(t, cfg)
}

// NewWithConfig 使用完整配置创建查询服务
func NewWithConfig(t interfaces.Transport, cfg *Config) (*Service, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seen, err := lru.New[uuid.UUID, struct{}](cfg.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		transport: t,
		cfg:       cfg,
		seen:      seen,
		active:    make(map[uuid.UUID]*liveQuery),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, p := range cfg.KnownPeers {
		s.AddPeer(p)
	}
	s.unregister = append(s.unregister,
		t.RegisterHandler(types.MessageQuery, s.handleQuery),
		t.RegisterHandler(types.MessageQueryResult, s.handleResult),
	)
	return s, nil
}

// AddPeer 添加已知节点（按 ID 去重，已存在时更新地址）
func (s *Service) AddPeer(p types.PeerInfo) {
	if p.ID.IsEmpty() || p.ID == s.transport.LocalPeer().ID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.known {
		if s.known[i].ID == p.ID {
			if len(p.Addrs) > 0 {
				s.known[i].Addrs = p.Addrs
			}
			return
		}
	}
	s.known = append(s.known, p)
}

// Peers 返回已知节点快照
func (s *Service) Peers() []types.PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.PeerInfo, len(s.known))
	copy(out, s.known)
	return out
}

// AddResponder 注册本地应答器，返回注销函数
func (s *Service) AddResponder(r interfaces.QueryResponder) func() {
	s.mu.Lock()
	s.responders = append(s.responders, r)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, x := range s.responders {
				if x == r {
					s.responders = append(s.responders[:i], s.responders[i+1:]...)
					return
				}
			}
		})
	}
}

// NewQuery 实现 interfaces.Discovery
func (s *Service) NewQuery(search string) interfaces.Query {
	return &liveQuery{svc: s, search: search, changed: make(chan struct{})}
}

// Close 注销处理器并停止所有查询
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.active = make(map[uuid.UUID]*liveQuery)
	unregister := s.unregister
	s.unregister = nil
	s.mu.Unlock()

	for _, fn := range unregister {
		fn()
	}
	s.cancel()
	s.wg.Wait()
	return nil
}

// ============================================================================
//                              出站
// ============================================================================

func (s *Service) activate(id uuid.UUID, q *liveQuery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.active[id] = q
	s.seen.Add(id, struct{}{})
	return true
}

func (s *Service) deactivate(id uuid.UUID) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// flood 把查询发给除 except 外的全部已知节点
func (s *Service) flood(q *pb.Query, except ...types.PeerID) {
	payload := q.Marshal()
	for _, p := range s.Peers() {
		if containsPeer(except, p.ID) {
			continue
		}
		s.sendAsync(p, types.NewMessage(types.MessageQuery, payload))
	}
}

func (s *Service) sendAsync(p types.PeerInfo, msg *types.Message) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SendTimeout)
		defer cancel()
		conn, err := s.transport.Connect(ctx, p)
		if err != nil {
			logger.Debug("连接节点失败", "peer", p.ID.ShortString(), "error", err)
			return
		}
		if err := conn.Send(ctx, msg); err != nil {
			logger.Debug("发送失败", "peer", p.ID.ShortString(), "type", msg.Type, "error", err)
		}
	}()
}

// ============================================================================
//                              入站
// ============================================================================

func (s *Service) handleQuery(from types.PeerID, msg *types.Message) {
	var q pb.Query
	if err := q.Unmarshal(msg.Payload); err != nil {
		logger.Debug("丢弃无法解析的查询", "from", from.ShortString(), "error", err)
		return
	}
	if q.ID == uuid.Nil || q.Origin.ID.IsEmpty() {
		return
	}

	local := s.transport.LocalPeer()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if ok, _ := s.seen.ContainsOrAdd(q.ID, struct{}{}); ok {
		s.mu.Unlock()
		return
	}
	responders := append([]interfaces.QueryResponder(nil), s.responders...)
	s.mu.Unlock()

	// 直接来自发起者的查询可以学到发起者的地址
	if from == q.Origin.ID {
		s.AddPeer(q.Origin)
	}

	if q.Origin.ID != local.ID {
		for _, r := range responders {
			for _, m := range r.MatchQuery(q.Search) {
				res := &pb.QueryResult{ID: q.ID, Peer: local, DataSet: m.DataSet, Extra: m.Extra}
				s.sendAsync(q.Origin, types.NewMessage(types.MessageQueryResult, res.Marshal()))
			}
		}
	}

	if q.TTL > 1 {
		q.TTL--
		s.flood(&q, from, q.Origin.ID)
	}
}

func (s *Service) handleResult(from types.PeerID, msg *types.Message) {
	var r pb.QueryResult
	if err := r.Unmarshal(msg.Payload); err != nil {
		logger.Debug("丢弃无法解析的查询结果", "from", from.ShortString(), "error", err)
		return
	}
	// 结果由应答节点直接发送，声明的节点必须与发送方一致
	if r.Peer.ID != from {
		return
	}
	s.mu.RLock()
	q := s.active[r.ID]
	s.mu.RUnlock()
	if q == nil {
		return
	}
	q.add(r.ID, interfaces.QueryResult{Peer: r.Peer, DataSet: r.DataSet, Extra: r.Extra})
}

func containsPeer(list []types.PeerID, id types.PeerID) bool {
	for _, p := range list {
		if p == id {
			return true
		}
	}
	return false
}
