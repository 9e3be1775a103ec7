package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-chanfetch/internal/core/metrics"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/lib/log"
	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

var logger = log.Logger("protocol/retrieval")

// outbound 锁内组装、锁外发送的消息
type outbound struct {
	p   *publisherState
	b   batch
	msg *types.Message
}

// Downloader 单个通道的检索协调器
type Downloader struct {
	id        types.ChannelID
	cfg       Config
	transport interfaces.Transport
	discovery *DiscoverySet
	retainer  interfaces.CertificateRetainer
	recorder  metrics.Recorder
	clk       clock.Clock

	connMu sync.Mutex // 串行化连接过程

	mu         sync.Mutex
	requests   map[string]*KeyRequest
	publishers map[types.PeerID]*publisherState
	order      []*publisherState
	outbox     []outbound
	cert       *types.Certificate
	closed     bool
	firstWait  sync.Once

	streaming  bool
	stopTick   chan struct{}
	unregister []func()

	onClose func(*Downloader)
}

// NewDownloader 创建通道下载器
func NewDownloader(id types.ChannelID, deps Deps, opts ...Option) (*Downloader, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Transport == nil || deps.Discovery == nil {
		return nil, fmt.Errorf("%w: transport and discovery are required", ErrInvalidConfig)
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	d := &Downloader{
		id:         id,
		cfg:        cfg,
		transport:  deps.Transport,
		retainer:   deps.Retainer,
		recorder:   deps.Recorder,
		clk:        deps.Clock,
		requests:   make(map[string]*KeyRequest),
		publishers: make(map[types.PeerID]*publisherState),
	}
	d.discovery = NewDiscoverySet(id, deps.Transport.LocalPeer().ID, deps.Discovery, deps.Clock, cfg.WaitForPublisher, cfg.Requery)
	return d, nil
}

// ID 返回通道标识
func (d *Downloader) ID() types.ChannelID { return d.id }

// Discovery 返回发现集合
func (d *Downloader) Discovery() *DiscoverySet { return d.discovery }

// FoundRemotely 报告是否有远端发布者；首次调用会等待发现
func (d *Downloader) FoundRemotely(ctx context.Context) bool {
	d.prepare(ctx)
	return d.discovery.Count() > 0
}

// GetKey 同步获取键值
func (d *Downloader) GetKey(ctx context.Context, key string) ([]byte, error) {
	return d.GetKeyAsync(ctx, key).Wait(ctx)
}

// GetKeyAsync 异步获取键值
//
// 同一键的并发请求共享一个 KeyRequest。没有可用发布者时返回的请求已经失败。
func (d *Downloader) GetKeyAsync(ctx context.Context, key string) *KeyRequest {
	d.mu.Lock()
	if r, ok := d.requests[key]; ok {
		d.mu.Unlock()
		return r
	}
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return failedRequest(key, d.clk.Now(), ErrDownloaderClosed)
	}

	d.prepare(ctx)
	if d.discovery.Count() == 0 {
		d.recorder.KeyFinished(d.id, false, 0)
		return failedRequest(key, d.clk.Now(), ErrNoPublishers)
	}
	d.refreshCertificate(ctx)

	var targets []*publisherState
	// 空闲关闭可能恰好清空了发布者表，此时重新连接一次
	for attempt := 0; ; attempt++ {
		d.connectPublishers(ctx)

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return failedRequest(key, d.clk.Now(), ErrDownloaderClosed)
		}
		if r, ok := d.requests[key]; ok {
			d.mu.Unlock()
			return r
		}
		targets = d.leastLoaded(d.cfg.SearchFanout)
		if len(targets) > 0 {
			break
		}
		d.mu.Unlock()
		if attempt > 0 {
			d.recorder.KeyFinished(d.id, false, 0)
			return failedRequest(key, d.clk.Now(), fmt.Errorf("%w: unable to connect", ErrNoPublishers))
		}
	}

	r := newKeyRequest(key, &d.mu, d.clk.Now())
	d.requests[key] = r
	if !d.streaming {
		d.startStreaming()
	}
	for _, p := range targets {
		p.search(r)
	}
	logger.Debug("请求键", "channel", d.id.String(), "key", key, "publishers", len(targets))
	d.unlock()
	return r
}

// Cancel 取消进行中的请求，返回是否存在该请求
func (d *Downloader) Cancel(key string) bool {
	d.mu.Lock()
	r, ok := d.requests[key]
	if ok {
		d.finish(r, nil, ErrCancelled)
	}
	d.unlock()
	return ok
}

// Pending 返回未完成的请求数
func (d *Downloader) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// Streaming 返回后台定时检查是否在运行
func (d *Downloader) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// Detach 停止发现查询；没有进行中的请求时立即空闲关闭
func (d *Downloader) Detach() error {
	d.discovery.Stop()

	d.mu.Lock()
	var conns []interfaces.Connection
	if len(d.requests) == 0 {
		conns = d.stopStreaming()
	}
	d.mu.Unlock()
	return closeConns(conns)
}

// Close 关闭下载器，所有未完成请求以 ErrDownloaderClosed 失败
func (d *Downloader) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, r := range d.requests {
		d.finish(r, nil, ErrDownloaderClosed)
	}
	conns := d.stopStreaming()
	onClose := d.onClose
	d.outbox = nil
	d.mu.Unlock()

	err := closeConns(conns)
	d.discovery.Stop()
	if onClose != nil {
		onClose(d)
	}
	return err
}

// ============================================================================
//                              准备与连接（锁外）
// ============================================================================

// prepare 启动发现；首次访问时等待发布者出现，并发的首次调用方一起等待
func (d *Downloader) prepare(ctx context.Context) {
	d.discovery.EnsureActive()
	d.firstWait.Do(func() {
		d.discovery.WaitForAny(ctx, d.cfg.WaitForPublisher)
	})
}

// connectPublishers 连接名单中尚未连接的发布者
//
// 并发调用方排队等待，返回时本轮名单中可达的发布者都已登记。
func (d *Downloader) connectPublishers(ctx context.Context) {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	peers := d.discovery.Peers()

	d.mu.Lock()
	var todo []types.PeerInfo
	for _, p := range peers {
		if d.publishers[p.ID] == nil {
			todo = append(todo, p)
		}
	}
	d.mu.Unlock()
	if len(todo) == 0 {
		return
	}

	conns := make([]interfaces.Connection, len(todo))
	var g errgroup.Group
	for i, p := range todo {
		i, p := i, p
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
			defer cancel()
			conn, err := d.transport.Connect(cctx, p)
			if err != nil {
				return fmt.Errorf("connect %s: %w", p.ID.ShortString(), err)
			}
			conns[i] = conn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		failed := 0
		for _, c := range conns {
			if c == nil {
				failed++
			}
		}
		// 单个发布者不可达不影响其他连接
		logger.Debug("部分发布者连接失败", "channel", d.id.String(), "failed", failed, "total", len(todo), "error", err)
	}

	var stale []interfaces.Connection
	d.mu.Lock()
	for i, p := range todo {
		conn := conns[i]
		if conn == nil {
			continue
		}
		if d.closed || d.publishers[p.ID] != nil {
			stale = append(stale, conn)
			continue
		}
		ps := newPublisherState(d, p, conn)
		d.publishers[p.ID] = ps
		d.order = append(d.order, ps)
		logger.Debug("已连接发布者", "channel", d.id.String(), "peer", p.ID.ShortString())
	}
	d.mu.Unlock()
	_ = closeConns(stale)
}

// refreshCertificate 在锁外获取本节点证书
func (d *Downloader) refreshCertificate(ctx context.Context) {
	if d.retainer == nil {
		return
	}
	cert, err := d.retainer.Certificate(ctx)
	if err != nil {
		logger.Debug("获取证书失败", "error", err)
	}
	d.mu.Lock()
	d.cert = cert
	d.mu.Unlock()
}

// ============================================================================
//                              后台定时检查
// ============================================================================

// startStreaming 注册应答处理器并启动定时器（持锁）
func (d *Downloader) startStreaming() {
	d.streaming = true
	d.unregister = []func(){
		d.transport.RegisterHandler(types.MessageDataInfo, d.handleInfo),
		d.transport.RegisterHandler(types.MessageDataChunk, d.handleChunk),
	}
	stop := make(chan struct{})
	d.stopTick = stop
	ticker := d.clk.Ticker(d.cfg.TickInterval)
	go d.run(ticker, stop)
	logger.Debug("开始后台检索", "channel", d.id.String())
}

// stopStreaming 空闲关闭：停止定时器、注销处理器、清空发布者表（持锁）
//
// 返回需要在锁外关闭的连接。
func (d *Downloader) stopStreaming() []interfaces.Connection {
	if !d.streaming {
		return nil
	}
	d.streaming = false
	close(d.stopTick)
	for _, fn := range d.unregister {
		fn()
	}
	d.unregister = nil

	conns := make([]interfaces.Connection, 0, len(d.order))
	for _, p := range d.order {
		conns = append(conns, p.conn)
	}
	d.publishers = make(map[types.PeerID]*publisherState)
	d.order = nil
	logger.Debug("后台检索空闲关闭", "channel", d.id.String())
	return conns
}

func (d *Downloader) run(ticker *clock.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.tick(stop)
		}
	}
}

// tick 刷新发现、连接新发布者、驱动各发布者的超时检查
func (d *Downloader) tick(stop <-chan struct{}) {
	d.mu.Lock()
	idle := len(d.requests) == 0
	var conns []interfaces.Connection
	if idle && d.stopTick == stop {
		conns = d.stopStreaming()
	}
	d.mu.Unlock()
	if idle {
		_ = closeConns(conns)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ConnectTimeout)
	defer cancel()
	d.discovery.EnsureActive()
	d.connectPublishers(ctx)
	d.refreshCertificate(ctx)

	d.mu.Lock()
	if d.stopTick != stop {
		d.mu.Unlock()
		return
	}
	now := d.clk.Now()
	for _, p := range d.order {
		p.tick(now)
	}
	d.unlock()
}

// ============================================================================
//                              应答分发
// ============================================================================

// handleInfo 处理搜索应答（DataInfo + MultiKeyInfo）
func (d *Downloader) handleInfo(from types.PeerID, msg *types.Message) {
	var info pb.DataInfo
	if err := info.Unmarshal(msg.Payload); err != nil || info.DataSet != d.id.DataSet() {
		return
	}
	if info.Extra.Kind() != pb.ExtraMultiKeyInfo || !d.inScope(info.Extra) {
		return
	}

	d.mu.Lock()
	if p := d.publishers[from]; p != nil {
		p.handleSearchReply(&info, info.Extra.MultiKeyInfo)
	}
	d.unlock()
}

// handleChunk 处理下载应答
func (d *Downloader) handleChunk(from types.PeerID, msg *types.Message) {
	var chunk pb.DataChunk
	if err := chunk.Unmarshal(msg.Payload); err != nil || chunk.DataSet != d.id.DataSet() {
		return
	}
	switch chunk.Extra.Kind() {
	case pb.ExtraKeyRequest, pb.ExtraMultiKeyRequest:
	default:
		return
	}
	if !d.inScope(chunk.Extra) {
		return
	}

	d.mu.Lock()
	if p := d.publishers[from]; p != nil {
		p.handleDownloadReply(&chunk)
	}
	d.unlock()
}

func (d *Downloader) inScope(e *pb.Extra) bool {
	version, code, ok := e.Scope()
	return ok && version == d.id.Proc.Version && code == d.id.Code
}

// ============================================================================
//                              请求状态迁移（持锁）
// ============================================================================

// recordAnswer 记录某发布者对某键的搜索应答
func (d *Downloader) recordAnswer(p *publisherState, r *KeyRequest, info *pb.DataInfo, ki pb.KeyInfo) {
	if r.completed {
		return
	}
	pid := p.id()
	delete(r.searching, pid)

	found := ki.Found && ki.Length >= 0 && ki.Length <= d.cfg.MaxKeyLength
	if found && r.found() && ki.Length != r.length {
		logger.Warn("发布者报告的长度不一致，视为未找到", "peer", pid.ShortString(), "key", r.key,
			"length", ki.Length, "expected", r.length)
		found = false
	}
	r.answers[pid] = found

	switch {
	case found && !r.found():
		chunkSize := int(info.ChunkSize)
		if chunkSize <= 0 {
			chunkSize = pb.DefaultChunkSize
		}
		r.setFound(pid, ki.Length, chunkSize, info.UseEncryption, info.UseSigning, d.clk.Now())
		if r.length == 0 {
			d.finish(r, []byte{}, nil)
			return
		}
		p.download(r.chunks)

	case found && len(r.orphans) > 0 && !r.failed[pid]:
		orphans := r.orphans
		r.orphans = nil
		r.source = pid
		p.download(orphans)

	case !found && (!r.found() || len(r.orphans) > 0):
		if len(r.searching) == 0 {
			d.searchAgain(r)
		}
	}
}

// deliver 写入一个块，写满时完成请求
func (d *Downloader) deliver(p *publisherState, c *chunk, data []byte) {
	r := c.req
	wrote, full := r.write(c, data)
	if wrote {
		d.recorder.Downloaded(p.id(), d.id, len(data))
	}
	if full {
		d.finish(r, r.buf, nil)
	}
}

// searchAgain 为请求寻找下一个发布者
//
// 顺序：有待转交的块时交给另一个已确认且未失败的发布者；否则在尚未询问的
// 发布者上搜索；否则若仍有搜索未应答则等待；否则失败。
func (d *Downloader) searchAgain(r *KeyRequest) {
	if r.completed {
		return
	}
	if len(r.orphans) > 0 {
		for _, p := range d.order {
			if r.answers[p.id()] && !r.failed[p.id()] {
				orphans := r.orphans
				r.orphans = nil
				r.source = p.id()
				p.download(orphans)
				return
			}
		}
	}
	for _, p := range d.order {
		if !r.answered(p.id()) && !r.searching[p.id()] {
			p.search(r)
			return
		}
	}
	if len(r.searching) > 0 {
		return
	}
	d.finish(r, nil, ErrKeyNotFound)
}

// finish 完成请求：移出请求表与所有队列，回调在独立 goroutine 中执行
func (d *Downloader) finish(r *KeyRequest, value []byte, err error) {
	if r.completed {
		return
	}
	if d.requests[r.key] == r {
		delete(d.requests, r.key)
	}
	for _, p := range d.order {
		p.purge(r)
	}
	cbs := r.finish(value, err)
	elapsed := d.clk.Since(r.requestedAt)
	d.recorder.KeyFinished(d.id, err == nil, elapsed)
	if err != nil {
		logger.Debug("请求失败", "channel", d.id.String(), "key", r.key, "error", err)
	} else {
		logger.Debug("请求完成", "channel", d.id.String(), "key", r.key, "size", len(value), "elapsed", elapsed)
	}
	if len(cbs) > 0 {
		go func() {
			for _, fn := range cbs {
				fn(r)
			}
		}()
	}
}

// leastLoaded 返回负载最小的 n 个发布者（负载相同时保持连接顺序）
func (d *Downloader) leastLoaded(n int) []*publisherState {
	ps := append([]*publisherState(nil), d.order...)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].load() < ps[j].load() })
	if len(ps) > n {
		ps = ps[:n]
	}
	return ps
}

// ============================================================================
//                              发送
// ============================================================================

// enqueueSend 登记一条待发送消息（持锁）
func (d *Downloader) enqueueSend(p *publisherState, b batch, msg *types.Message) {
	d.outbox = append(d.outbox, outbound{p: p, b: b, msg: msg})
}

// unlock 释放锁并发送锁内登记的消息；发送失败的批次撤回到队列
func (d *Downloader) unlock() {
	for {
		out := d.outbox
		d.outbox = nil
		d.mu.Unlock()
		if len(out) == 0 {
			return
		}

		var failed []outbound
		for _, o := range out {
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
			err := o.p.conn.Send(ctx, o.msg)
			cancel()
			if err != nil {
				logger.Debug("发送失败，条目保留到下次检查", "peer", o.p.id().ShortString(), "type", o.msg.Type, "error", err)
				failed = append(failed, o)
			}
		}
		if len(failed) == 0 {
			return
		}

		d.mu.Lock()
		for _, o := range failed {
			o.p.sendFailed(o.b)
		}
	}
}

func closeConns(conns []interfaces.Connection) error {
	var err error
	for _, c := range conns {
		if c != nil {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
