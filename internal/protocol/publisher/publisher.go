package publisher

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-chanfetch/internal/core/metrics"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/lib/log"
	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

var logger = log.Logger("protocol/publisher")

// Publisher 发布端应答器
type Publisher struct {
	transport interfaces.Transport
	validator interfaces.CertificateValidator
	recorder  metrics.Recorder
	cfg       *Config
	cache     *valueCache
	limiters  *lru.Cache[types.PeerID, *rate.Limiter]

	mu     sync.RWMutex
	pubs   map[types.ProcRef]*publication
	closed bool

	unregister []func()
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// New 创建应答器并注册请求处理器
//
// validator 与 recorder 可以为 nil；启用证书校验时缺少 validator 会拒绝所有下载请求。
func New(t interfaces.Transport, validator interfaces.CertificateValidator, recorder metrics.Recorder, opts ...Option) (*Publisher, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewWithConfig(t, validator, recorder, cfg)
}

// NewWithConfig 使用完整配置创建应答器
func NewWithConfig(t interfaces.Transport, validator interfaces.CertificateValidator, recorder metrics.Recorder, cfg *Config) (*Publisher, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	cache, err := newValueCache(cfg.CacheSize, cfg.MaxConcurrentLookups, cfg.LookupTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Publisher{
		transport: t,
		validator: validator,
		recorder:  recorder,
		cfg:       cfg,
		cache:     cache,
		pubs:      make(map[types.ProcRef]*publication),
		ctx:       ctx,
		cancel:    cancel,
	}
	if cfg.RatePerPeer > 0 {
		s.limiters, err = lru.New[types.PeerID, *rate.Limiter](cfg.LimiterCacheSize)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	s.unregister = append(s.unregister,
		t.RegisterHandler(types.MessageDataInfoRequest, s.handleInfoRequest),
		t.RegisterHandler(types.MessageDataChunkRequest, s.handleChunkRequest),
	)
	return s, nil
}

// Close 注销处理器并等待进行中的应答结束
func (s *Publisher) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	for _, fn := range s.unregister {
		fn()
	}
	s.cancel()
	s.wg.Wait()
	return nil
}

// ============================================================================
//                              发布表
// ============================================================================

// Publish 发布（或更新）一个流程
func (s *Publisher) Publish(p Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pub, ok := s.pubs[p.Proc]; ok {
		pub.update(p)
		return
	}
	s.pubs[p.Proc] = newPublication(p)
	logger.Info("发布流程", "proc", p.Proc.String(), "name", p.Name)
}

// Unpublish 撤销流程及其所有通道
func (s *Publisher) Unpublish(ref types.ProcRef) {
	s.mu.Lock()
	pub, ok := s.pubs[ref]
	delete(s.pubs, ref)
	s.mu.Unlock()
	if !ok {
		return
	}
	for code := range pub.channels {
		s.cache.purge(types.ChannelID{Proc: ref, Code: code})
	}
	logger.Info("撤销流程", "proc", ref.String())
}

// AddChannel 在已发布的流程下挂载通道数据源，已存在时替换
func (s *Publisher) AddChannel(id types.ChannelID, src interfaces.KeyProvider) error {
	if src == nil {
		return ErrNilProvider
	}
	s.mu.Lock()
	pub, ok := s.pubs[id.Proc]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotPublished, id.Proc)
	}
	pub.channels[id.Code] = src
	s.mu.Unlock()

	s.cache.purge(id)
	logger.Debug("挂载通道", "channel", id.String())
	return nil
}

// RemoveChannel 移除通道
func (s *Publisher) RemoveChannel(id types.ChannelID) {
	s.mu.Lock()
	if pub, ok := s.pubs[id.Proc]; ok {
		delete(pub.channels, id.Code)
	}
	s.mu.Unlock()
	s.cache.purge(id)
}

// Channels 返回流程下已挂载的通道码
func (s *Publisher) Channels(ref types.ProcRef) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.pubs[ref]
	if !ok {
		return nil, false
	}
	return pub.codes(), true
}

// provider 查找通道数据源
func (s *Publisher) provider(id types.ChannelID) interfaces.KeyProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if pub, ok := s.pubs[id.Proc]; ok {
		return pub.channels[id.Code]
	}
	return nil
}

// ============================================================================
//                              入站请求
// ============================================================================

func (s *Publisher) handleInfoRequest(from types.PeerID, msg *types.Message) {
	var req pb.DataInfoRequest
	if err := req.Unmarshal(msg.Payload); err != nil {
		logger.Debug("丢弃无法解析的信息请求", "from", from.ShortString(), "error", err)
		return
	}
	id, ok := channelOf(req.DataSet, req.Extra)
	if !ok {
		return
	}
	if !s.allow(from) {
		s.recorder.RequestRejected(rejectRateLimited)
		return
	}
	s.spawn(func(ctx context.Context) { s.serveInfo(ctx, from, id, &req) })
}

func (s *Publisher) handleChunkRequest(from types.PeerID, msg *types.Message) {
	var req pb.DataChunkRequest
	if err := req.Unmarshal(msg.Payload); err != nil {
		logger.Debug("丢弃无法解析的下载请求", "from", from.ShortString(), "error", err)
		return
	}
	id, ok := channelOf(req.DataSet, req.Extra)
	if !ok {
		return
	}
	if !s.allow(from) {
		s.recorder.RequestRejected(rejectRateLimited)
		return
	}
	if reason := s.authorize(from, id.Proc, req.Certificate); reason != "" {
		logger.Debug("拒绝下载请求", "from", from.ShortString(), "channel", id.String(), "reason", reason)
		s.recorder.RequestRejected(reason)
		return
	}
	s.spawn(func(ctx context.Context) { s.serveChunk(ctx, from, id, &req) })
}

// channelOf 从请求附加信息中取出目标通道；只接受单键与多键请求
func channelOf(dataSet types.DataSetID, extra *pb.Extra) (types.ChannelID, bool) {
	switch extra.Kind() {
	case pb.ExtraKeyRequest, pb.ExtraMultiKeyRequest:
	default:
		return types.ChannelID{}, false
	}
	version, code, _ := extra.Scope()
	return types.ChannelID{Proc: types.ProcRef{ID: dataSet, Version: version}, Code: code}, true
}

func (s *Publisher) spawn(fn func(ctx context.Context)) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// lookup 查找键值；数据源出错视为未找到
func (s *Publisher) lookup(ctx context.Context, id types.ChannelID, src interfaces.KeyProvider, key string) ([]byte, bool) {
	value, found, err := s.cache.get(ctx, id, key, src)
	if err != nil {
		logger.Debug("数据源查找失败", "channel", id.String(), "key", key, "error", err)
		return nil, false
	}
	return value, found
}

// serveInfo 回复存在性查询
func (s *Publisher) serveInfo(ctx context.Context, from types.PeerID, id types.ChannelID, req *pb.DataInfoRequest) {
	src := s.provider(id)
	if src == nil {
		return
	}
	reply := &pb.DataInfo{
		DataSet:      req.DataSet,
		ChunkSize:    int32(s.cfg.ChunkSize),
		AllAvailable: true,
	}

	switch req.Extra.Kind() {
	case pb.ExtraKeyRequest:
		value, found := s.lookup(ctx, id, src, req.Extra.KeyRequest.Key)
		reply.Found = found
		if found {
			reply.Length = int64(len(value))
		}
		reply.Extra = req.Extra
		s.recorder.RequestServed("info")

	case pb.ExtraMultiKeyRequest:
		mk := req.Extra.MultiKeyRequest
		info := &pb.MultiKeyInfo{Version: mk.Version, Code: mk.Code}
		for _, key := range mk.Keys {
			value, found := s.lookup(ctx, id, src, key)
			ki := pb.KeyInfo{Key: key, Found: found}
			if found {
				ki.Length = int64(len(value))
			}
			info.Keys = append(info.Keys, ki)
		}
		reply.Found = true
		reply.Extra = &pb.Extra{MultiKeyInfo: info}
		s.recorder.RequestServed("multi_info")
	}

	s.reply(ctx, from, types.NewMessage(types.MessageDataInfo, reply.Marshal()))
}

// serveChunk 回复数据块请求
func (s *Publisher) serveChunk(ctx context.Context, from types.PeerID, id types.ChannelID, req *pb.DataChunkRequest) {
	src := s.provider(id)
	if src == nil {
		return
	}
	reply := &pb.DataChunk{DataSet: req.DataSet}

	switch req.Extra.Kind() {
	case pb.ExtraKeyRequest:
		value, found := s.lookup(ctx, id, src, req.Extra.KeyRequest.Key)
		if !found || req.Offset < 0 || req.Offset >= int64(len(value)) || req.Size <= 0 {
			return
		}
		end := req.Offset + int64(req.Size)
		if end > int64(len(value)) {
			end = int64(len(value))
		}
		reply.Offset = req.Offset
		reply.Data = value[req.Offset:end]
		reply.Extra = req.Extra
		s.recorder.RequestServed("chunk")

	case pb.ExtraMultiKeyRequest:
		mk := req.Extra.MultiKeyRequest
		included := &pb.MultiKeyRequest{Version: mk.Version, Code: mk.Code}
		budget := int(req.Size)
		for _, key := range mk.Keys {
			value, found := s.lookup(ctx, id, src, key)
			if !found || len(value) == 0 || len(reply.Data)+len(value) > budget {
				continue
			}
			included.Keys = append(included.Keys, key)
			reply.Data = append(reply.Data, value...)
		}
		if len(included.Keys) == 0 {
			return
		}
		reply.Extra = &pb.Extra{MultiKeyRequest: included}
		s.recorder.RequestServed("multi_chunk")
	}

	if s.reply(ctx, from, types.NewMessage(types.MessageDataChunk, reply.Marshal())) {
		s.recorder.Uploaded(from, id, len(reply.Data))
	}
}

func (s *Publisher) reply(ctx context.Context, to types.PeerID, msg *types.Message) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()
	conn, err := s.transport.Connect(ctx, types.PeerInfo{ID: to})
	if err != nil {
		logger.Debug("连接请求方失败", "peer", to.ShortString(), "error", err)
		return false
	}
	if err := conn.Send(ctx, msg); err != nil {
		logger.Debug("回复发送失败", "peer", to.ShortString(), "type", msg.Type, "error", err)
		return false
	}
	return true
}
