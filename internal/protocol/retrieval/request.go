package retrieval

import (
	"context"
	"sync"
	"time"

	"github.com/dep2p/go-chanfetch/pkg/types"
)

// KeyRequest 一次键检索的结果句柄
//
// 同一 Downloader 内同一键同时只有一个 KeyRequest，并发调用方共享它。
// 完成（成功或失败）恰好发生一次，之后 Done 关闭、回调依次执行。
type KeyRequest struct {
	key string
	mu  *sync.Mutex // 所属 Downloader 的锁

	requestedAt time.Time
	foundAt     time.Time
	length      int64 // 未找到前为 -1
	chunkSize   int
	encrypted   bool
	signed      bool

	// answers 各发布者的搜索应答：true 找到，false 未找到；缺失表示尚未应答
	answers map[types.PeerID]bool
	// searching 已排队或在途的搜索
	searching map[types.PeerID]bool
	// searchTimeouts 各发布者上的搜索超时次数
	searchTimeouts map[types.PeerID]int
	// failed 下载失败的发布者
	failed map[types.PeerID]bool

	source  types.PeerID // 当前负责下载的发布者
	chunks  []*chunk
	orphans []*chunk // 等待转交的块
	buf     []byte
	written int64

	completed bool
	value     []byte
	err       error
	done      chan struct{}
	callbacks []func(*KeyRequest)
}

func newKeyRequest(key string, mu *sync.Mutex, now time.Time) *KeyRequest {
	return &KeyRequest{
		key:            key,
		mu:             mu,
		requestedAt:    now,
		length:         -1,
		answers:        make(map[types.PeerID]bool),
		searching:      make(map[types.PeerID]bool),
		searchTimeouts: make(map[types.PeerID]int),
		failed:         make(map[types.PeerID]bool),
		done:           make(chan struct{}),
	}
}

// failedRequest 返回一个已经失败、不进入请求表的 KeyRequest
func failedRequest(key string, now time.Time, err error) *KeyRequest {
	r := newKeyRequest(key, &sync.Mutex{}, now)
	r.completed = true
	r.err = err
	close(r.done)
	return r
}

// Key 返回请求的键
func (r *KeyRequest) Key() string { return r.key }

// Done 返回完成信号
func (r *KeyRequest) Done() <-chan struct{} { return r.done }

// Wait 阻塞直到完成或 ctx 结束
func (r *KeyRequest) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result 返回结果；未完成时 done 为 false
func (r *KeyRequest) Result() (value []byte, done bool, err error) {
	select {
	case <-r.done:
		return r.value, true, r.err
	default:
		return nil, false, nil
	}
}

// OnComplete 注册完成回调
//
// 回调按注册顺序在独立的 goroutine 中依次执行；
// 请求已完成时回调立即被调度。
func (r *KeyRequest) OnComplete(fn func(*KeyRequest)) {
	r.mu.Lock()
	if !r.completed {
		r.callbacks = append(r.callbacks, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	go fn(r)
}

// Info 请求状态快照
type Info struct {
	Key         string
	RequestedAt time.Time
	FoundAt     time.Time
	Length      int64
	Written     int64
	Completed   bool
}

// Info 返回状态快照
func (r *KeyRequest) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{
		Key:         r.key,
		RequestedAt: r.requestedAt,
		FoundAt:     r.foundAt,
		Length:      r.length,
		Written:     r.written,
		Completed:   r.completed,
	}
}

// ============================================================================
//                              内部状态（持有 Downloader 锁）
// ============================================================================

func (r *KeyRequest) found() bool { return r.length >= 0 }

func (r *KeyRequest) answered(p types.PeerID) bool {
	_, ok := r.answers[p]
	return ok
}

// setFound 记录首个确认存在的发布者并生成块
func (r *KeyRequest) setFound(p types.PeerID, length int64, chunkSize int, encrypted, signed bool, now time.Time) {
	r.length = length
	r.foundAt = now
	r.chunkSize = chunkSize
	r.encrypted = encrypted
	r.signed = signed
	r.source = p
	r.buf = make([]byte, length)
	r.chunks = splitChunks(r, length, chunkSize)
}

// write 在块偏移处写入数据；重复或已完成时忽略
func (r *KeyRequest) write(c *chunk, data []byte) (wrote, full bool) {
	if c.delivered || r.completed || len(data) != c.size {
		return false, false
	}
	copy(r.buf[c.offset:], data)
	c.delivered = true
	r.written += int64(c.size)
	return true, r.written == r.length
}

// finish 标记完成，返回待执行的回调（调用方持锁）
func (r *KeyRequest) finish(value []byte, err error) []func(*KeyRequest) {
	if r.completed {
		return nil
	}
	r.completed = true
	r.value = value
	r.err = err
	r.buf = nil
	r.orphans = nil
	close(r.done)
	cbs := r.callbacks
	r.callbacks = nil
	return cbs
}
