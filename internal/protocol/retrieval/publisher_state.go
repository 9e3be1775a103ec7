package retrieval

import (
	"time"

	"github.com/dep2p/go-chanfetch/internal/core/metrics"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// publisherState 与单个发布者交互的全部状态
//
// 所有方法都要求调用方持有 Downloader 锁。
type publisherState struct {
	d    *Downloader
	info types.PeerInfo
	conn interfaces.Connection

	pendingSearch   []*KeyRequest
	pendingDownload []*chunk
	searches        []*searchBatch
	downloads       []*downloadBatch

	rtt *rttEstimator
}

func newPublisherState(d *Downloader, info types.PeerInfo, conn interfaces.Connection) *publisherState {
	return &publisherState{
		d:    d,
		info: info,
		conn: conn,
		rtt:  newRTTEstimator(d.cfg),
	}
}

func (p *publisherState) id() types.PeerID { return p.info.ID }

// load 当前负载：待发送的搜索与下载数
func (p *publisherState) load() int {
	return len(p.pendingSearch) + len(p.pendingDownload)
}

// ============================================================================
//                              入队
// ============================================================================

// search 排队搜索；已应答或已在搜索的请求不会重复排队
func (p *publisherState) search(r *KeyRequest) bool {
	if r.completed || r.answered(p.id()) || r.searching[p.id()] {
		return false
	}
	r.searching[p.id()] = true
	p.pendingSearch = append(p.pendingSearch, r)
	p.flushSearch()
	return true
}

// download 排队下载块
func (p *publisherState) download(chunks []*chunk) {
	for _, c := range chunks {
		if !c.delivered {
			p.pendingDownload = append(p.pendingDownload, c)
		}
	}
	p.flushDownload()
}

// ============================================================================
//                              发送
// ============================================================================

// flushSearch 在在途上限内把待搜索的键组成批次发送
func (p *publisherState) flushSearch() {
	cfg := p.d.cfg
	for len(p.searches) < cfg.MaxParallelSearch {
		p.pendingSearch = pruneRequests(p.pendingSearch)
		if len(p.pendingSearch) == 0 {
			return
		}
		n := len(p.pendingSearch)
		if n > cfg.SearchBatchSize {
			n = cfg.SearchBatchSize
		}
		items := append([]*KeyRequest(nil), p.pendingSearch[:n]...)
		p.pendingSearch = p.pendingSearch[n:]

		b := newSearchBatch(items, p.d.clk.Now())
		p.searches = append(p.searches, b)
		p.d.enqueueSend(p, b, b.message(p.d.id))
		p.d.recorder.BatchSent(metrics.BatchSearch, n)
	}
}

// flushDownload 在在途上限内组装下载批次
//
// 按队列顺序挑选覆盖整个键值的块，总大小不超过块大小预算；
// 部分块只能单独发送，且仅在它是第一个被选中的块时。
func (p *publisherState) flushDownload() {
	cfg := p.d.cfg
	for len(p.downloads) < cfg.MaxParallelDownload {
		p.pendingDownload = pruneChunks(p.pendingDownload)
		if len(p.pendingDownload) == 0 {
			return
		}

		var picked []*chunk
		rest := make([]*chunk, 0, len(p.pendingDownload))
		budget, total := 0, 0
		for i, c := range p.pendingDownload {
			if !c.whole() {
				if len(picked) == 0 {
					picked = append(picked, c)
					rest = append(rest, p.pendingDownload[i+1:]...)
					break
				}
				rest = append(rest, c)
				continue
			}
			if len(picked) == 0 {
				budget = c.req.chunkSize
			}
			if total+c.size <= budget || len(picked) == 0 {
				picked = append(picked, c)
				total += c.size
				continue
			}
			rest = append(rest, c)
		}
		p.pendingDownload = rest

		b := &downloadBatch{sentAt: p.d.clk.Now(), chunks: picked}
		p.downloads = append(p.downloads, b)
		p.d.enqueueSend(p, b, b.message(p.d.id, p.d.cert))
		p.d.recorder.BatchSent(metrics.BatchDownload, len(picked))
	}
}

// sendFailed 发送失败：批次撤回，条目放回队首，等待下一次定时检查
func (p *publisherState) sendFailed(b batch) {
	switch b := b.(type) {
	case *searchBatch:
		if removeBatch(&p.searches, b) {
			p.pendingSearch = append(b.remaining(), p.pendingSearch...)
		}
	case *downloadBatch:
		if removeBatch(&p.downloads, b) {
			p.pendingDownload = append(append([]*chunk(nil), b.chunks...), p.pendingDownload...)
		}
	}
}

// ============================================================================
//                              应答
// ============================================================================

// handleSearchReply 处理多键信息应答
func (p *publisherState) handleSearchReply(info *pb.DataInfo, reply *pb.MultiKeyInfo) {
	type answer struct {
		r  *KeyRequest
		ki pb.KeyInfo
	}
	now := p.d.clk.Now()
	for _, b := range append([]*searchBatch(nil), p.searches...) {
		var answers []answer
		for _, ki := range reply.Keys {
			if r := b.take(ki.Key); r != nil {
				answers = append(answers, answer{r, ki})
			}
		}
		// 记录应答可能完成请求并清理批次，先按应答本身判断批次是否完成
		if len(answers) > 0 && b.empty() && removeBatch(&p.searches, b) {
			p.observeRTT(now.Sub(b.sentAt))
		}
		for _, a := range answers {
			p.d.recordAnswer(p, a.r, info, a.ki)
		}
	}
	p.flushSearch()
	p.flushDownload()
}

// handleDownloadReply 处理数据块应答
func (p *publisherState) handleDownloadReply(reply *pb.DataChunk) {
	now := p.d.clk.Now()
	for _, b := range append([]*downloadBatch(nil), p.downloads...) {
		matched := b.match(reply)
		if len(matched) > 0 && b.empty() && removeBatch(&p.downloads, b) {
			p.observeRTT(now.Sub(b.sentAt))
		}
		for _, dv := range matched {
			p.d.deliver(p, dv.c, dv.data)
		}
	}
	p.flushDownload()
}

func (p *publisherState) observeRTT(d time.Duration) {
	p.rtt.add(d)
	p.d.recorder.ObserveRTT(p.id(), d)
}

// ============================================================================
//                              定时检查
// ============================================================================

// tick 取消超时批次，然后尝试继续发送
func (p *publisherState) tick(now time.Time) {
	timeout := p.rtt.Timeout()

	for _, b := range append([]*searchBatch(nil), p.searches...) {
		if now.Sub(b.sentAt) <= timeout {
			continue
		}
		removeBatch(&p.searches, b)
		p.d.recorder.BatchTimedOut(metrics.BatchSearch)
		p.cancelSearch(b)
	}

	for _, b := range append([]*downloadBatch(nil), p.downloads...) {
		if now.Sub(b.sentAt) <= timeout {
			continue
		}
		removeBatch(&p.downloads, b)
		p.d.recorder.BatchTimedOut(metrics.BatchDownload)
		p.cancelDownload(b)
	}

	p.flushDownload()
	p.flushSearch()
}

// cancelSearch 超时的搜索在同一发布者上重新排队；
// 超时次数达到上限的键视为该发布者未找到
func (p *publisherState) cancelSearch(b *searchBatch) {
	var escalate []*KeyRequest
	for _, r := range b.remaining() {
		if r.completed {
			continue
		}
		r.searchTimeouts[p.id()]++
		if r.searchTimeouts[p.id()] >= p.d.cfg.MaxSearchTimeouts {
			delete(r.searching, p.id())
			r.answers[p.id()] = false
			escalate = append(escalate, r)
			continue
		}
		p.pendingSearch = append(p.pendingSearch, r)
	}
	for _, r := range escalate {
		logger.Debug("发布者无响应，视为未找到", "peer", p.id().ShortString(), "key", r.key)
		if !r.found() || len(r.orphans) > 0 {
			p.d.searchAgain(r)
		}
	}
}

// cancelDownload 超时的块计数重试；未达上限时在同一发布者重排，否则转交
func (p *publisherState) cancelDownload(b *downloadBatch) {
	var retry []*chunk
	var escalate []*KeyRequest
	for _, c := range b.chunks {
		if c.delivered || c.req.completed {
			continue
		}
		c.retries++
		if c.retries < p.d.cfg.MaxChunkRetries {
			retry = append(retry, c)
			continue
		}
		r := c.req
		c.retries = 0
		r.failed[p.id()] = true
		r.orphans = append(r.orphans, c)
		if len(escalate) == 0 || escalate[len(escalate)-1] != r {
			escalate = append(escalate, r)
		}
	}
	p.pendingDownload = append(p.pendingDownload, retry...)
	for _, r := range escalate {
		logger.Debug("块下载重试耗尽，转交其他发布者", "peer", p.id().ShortString(), "key", r.key)
		p.d.searchAgain(r)
	}
}

// purge 从全部队列与批次中移除请求；清空的批次直接丢弃
func (p *publisherState) purge(r *KeyRequest) {
	p.pendingSearch = removeRequest(p.pendingSearch, r)
	kept := p.pendingDownload[:0]
	for _, c := range p.pendingDownload {
		if c.req != r {
			kept = append(kept, c)
		}
	}
	p.pendingDownload = kept

	for _, b := range append([]*searchBatch(nil), p.searches...) {
		b.drop(r)
		if b.empty() {
			removeBatch(&p.searches, b)
		}
	}
	for _, b := range append([]*downloadBatch(nil), p.downloads...) {
		b.drop(r)
		if b.empty() {
			removeBatch(&p.downloads, b)
		}
	}
}

// ============================================================================
//                              工具函数
// ============================================================================

func removeBatch[B comparable](list *[]B, b B) bool {
	for i, x := range *list {
		if x == b {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

func removeRequest(list []*KeyRequest, r *KeyRequest) []*KeyRequest {
	kept := list[:0]
	for _, x := range list {
		if x != r {
			kept = append(kept, x)
		}
	}
	return kept
}

func pruneRequests(list []*KeyRequest) []*KeyRequest {
	kept := list[:0]
	for _, r := range list {
		if !r.completed {
			kept = append(kept, r)
		}
	}
	return kept
}

func pruneChunks(list []*chunk) []*chunk {
	kept := list[:0]
	for _, c := range list {
		if !c.delivered && !c.req.completed {
			kept = append(kept, c)
		}
	}
	return kept
}
