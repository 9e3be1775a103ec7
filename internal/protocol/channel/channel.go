package channel

import (
	"context"
	"sync"

	"github.com/dep2p/go-chanfetch/internal/protocol/publisher"
	"github.com/dep2p/go-chanfetch/internal/protocol/retrieval"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/lib/log"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

var logger = log.Logger("protocol/channel")

// Source 取值来源，可按位组合
type Source uint8

const (
	// FromLocal 本地数据源
	FromLocal Source = 1 << iota
	// FromRemote 远端发布者
	FromRemote

	// FromAny 先查本地，未找到再查远端
	FromAny = FromLocal | FromRemote
)

// String 返回可读名称
func (s Source) String() string {
	switch s {
	case FromLocal:
		return "local"
	case FromRemote:
		return "remote"
	case FromAny:
		return "any"
	default:
		return "none"
	}
}

// Channel 一个数据通道
type Channel struct {
	id  types.ChannelID
	reg *Registry

	mu        sync.RWMutex
	local     interfaces.KeyProvider
	published bool
}

// ID 返回通道标识
func (c *Channel) ID() types.ChannelID { return c.id }

// Local 返回本地数据源，未挂接时为 nil
func (c *Channel) Local() interfaces.KeyProvider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local
}

// AttachLocal 挂接本地数据源；已发布的通道立即改用新数据源应答
func (c *Channel) AttachLocal(src interfaces.KeyProvider) error {
	c.mu.Lock()
	c.local = src
	published := c.published
	c.mu.Unlock()

	if !published || c.reg.publisher == nil {
		return nil
	}
	if src == nil {
		c.reg.publisher.RemoveChannel(c.id)
		return nil
	}
	return c.reg.publisher.AddChannel(c.id, src)
}

// Publish 以本地数据源对外发布通道
//
// 同一流程的其他通道共享流程定义，后一次发布覆盖定义与几何信息。
func (c *Channel) Publish(definition, geometry []byte) error {
	pub := c.reg.publisher
	if pub == nil {
		return ErrNoPublisher
	}
	src := c.Local()
	if src == nil {
		return ErrNoLocalSource
	}
	pub.Publish(publisher.Pipeline{Proc: c.id.Proc, Definition: definition, Geometry: geometry})
	if err := pub.AddChannel(c.id, src); err != nil {
		return err
	}

	c.mu.Lock()
	c.published = true
	c.mu.Unlock()
	logger.Info("通道已发布", "channel", c.id.String())
	return nil
}

// Unpublish 停止对外发布
func (c *Channel) Unpublish() {
	c.mu.Lock()
	was := c.published
	c.published = false
	c.mu.Unlock()
	if was && c.reg.publisher != nil {
		c.reg.publisher.RemoveChannel(c.id)
	}
}

// Published 返回通道是否对外发布
func (c *Channel) Published() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.published
}

// FoundRemotely 报告是否有远端发布者；首次调用会等待发现
func (c *Channel) FoundRemotely(ctx context.Context) bool {
	d, err := c.reg.downloader(c.id)
	if err != nil {
		return false
	}
	return d.FoundRemotely(ctx)
}

// GetKey 按来源取值
//
// FromAny 先查本地；本地没有或出错时转向远端。
func (c *Channel) GetKey(ctx context.Context, key string, from Source) ([]byte, error) {
	if from&FromAny == 0 {
		return nil, ErrInvalidSource
	}

	if from&FromLocal != 0 {
		v, err := c.getLocal(ctx, key)
		if err == nil || from&FromRemote == 0 {
			return v, err
		}
		logger.Debug("本地未取到，转向远端", "channel", c.id.String(), "key", key, "error", err)
	}

	r, err := c.GetKeyAsync(ctx, key)
	if err != nil {
		return nil, err
	}
	return r.Wait(ctx)
}

// GetKeyAsync 从远端异步取值
func (c *Channel) GetKeyAsync(ctx context.Context, key string) (*retrieval.KeyRequest, error) {
	d, err := c.reg.downloader(c.id)
	if err != nil {
		return nil, err
	}

	start := c.reg.clk.Now()
	c.reg.events.keyRequested(c.id, key, true)
	r := d.GetKeyAsync(ctx, key)
	r.OnComplete(func(r *retrieval.KeyRequest) {
		v, _, err := r.Result()
		if err != nil {
			c.reg.events.keyFailed(c.id, key, true, err)
			return
		}
		c.reg.events.keyProvided(c.id, key, len(v), true, c.reg.clk.Since(start))
	})
	return r, nil
}

func (c *Channel) getLocal(ctx context.Context, key string) ([]byte, error) {
	src := c.Local()
	if src == nil {
		return nil, ErrNoLocalSource
	}

	start := c.reg.clk.Now()
	c.reg.events.keyRequested(c.id, key, false)
	v, ok, err := src.GetKey(ctx, key)
	switch {
	case err != nil:
	case !ok:
		err = ErrKeyNotFound
	default:
		c.reg.events.keyProvided(c.id, key, len(v), false, c.reg.clk.Since(start))
		return v, nil
	}
	c.reg.events.keyFailed(c.id, key, false, err)
	return nil, err
}
