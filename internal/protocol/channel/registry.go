package channel

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanfetch/internal/protocol/publisher"
	"github.com/dep2p/go-chanfetch/internal/protocol/retrieval"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// Registry 按标识管理通道，同一标识只有一个 Channel
type Registry struct {
	manager   *retrieval.Manager
	publisher *publisher.Publisher
	events    *emitters
	clk       clock.Clock

	mu       sync.Mutex
	channels map[types.ChannelID]*Channel
	closed   bool
}

// Deps 注册表依赖；Publisher 与 Bus 可为 nil
type Deps struct {
	Manager   *retrieval.Manager
	Publisher *publisher.Publisher
	Bus       interfaces.EventBus
	Clock     clock.Clock
}

// NewRegistry 创建注册表
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Manager == nil {
		return nil, ErrNilManager
	}
	events, err := newEmitters(deps.Bus)
	if err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	return &Registry{
		manager:   deps.Manager,
		publisher: deps.Publisher,
		events:    events,
		clk:       deps.Clock,
		channels:  make(map[types.ChannelID]*Channel),
	}, nil
}

// Create 返回通道，不存在时创建
func (r *Registry) Create(id types.ChannelID) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.channels[id]; ok {
		return c
	}
	c := &Channel{id: id, reg: r}
	r.channels[id] = c
	return c
}

// Get 返回已存在的通道
func (r *Registry) Get(id types.ChannelID) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[id]
	return c, ok
}

// Channels 返回全部通道（按标识字符串排序）
func (r *Registry) Channels() []*Channel {
	r.mu.Lock()
	out := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id.String() < out[j].id.String() })
	return out
}

// Remove 注销通道：停止发布并关闭其下载器
func (r *Registry) Remove(id types.ChannelID) error {
	r.mu.Lock()
	c, ok := r.channels[id]
	delete(r.channels, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	c.Unpublish()
	if d, ok := r.manager.Get(id); ok {
		return d.Close()
	}
	return nil
}

// Close 关闭事件发射器；之后的远端取值返回 ErrRegistryClosed
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.events.close()
}

func (r *Registry) downloader(id types.ChannelID) (*retrieval.Downloader, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	return r.manager.Downloader(id)
}
