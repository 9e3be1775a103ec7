package publisher

import (
	"context"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

type cacheKey struct {
	ch  types.ChannelID
	key string
}

// String 合并查找用的键；通道名带长度前缀，不同通道与键的组合不会重合
func (k cacheKey) String() string {
	ch := k.ch.String()
	return strconv.Itoa(len(ch)) + ":" + ch + "/" + k.key
}

// cacheEntry 缓存的查找结果；未找到同样缓存
type cacheEntry struct {
	value []byte
	found bool
}

// valueCache 热点键缓存
//
// 同一键的并发查找合并为一次，查找总数受信号量限制。
type valueCache struct {
	entries *lru.Cache[cacheKey, cacheEntry]
	group   singleflight.Group
	sem     chan struct{}
	timeout time.Duration
}

func newValueCache(size, maxLookups int, timeout time.Duration) (*valueCache, error) {
	entries, err := lru.New[cacheKey, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &valueCache{
		entries: entries,
		sem:     make(chan struct{}, maxLookups),
		timeout: timeout,
	}, nil
}

// get 返回键值；数据源出错时不缓存
func (c *valueCache) get(ctx context.Context, ch types.ChannelID, key string, src interfaces.KeyProvider) ([]byte, bool, error) {
	k := cacheKey{ch: ch, key: key}
	if e, ok := c.entries.Get(k); ok {
		return e.value, e.found, nil
	}

	v, err, _ := c.group.Do(k.String(), func() (interface{}, error) {
		if e, ok := c.entries.Get(k); ok {
			return e, nil
		}
		select {
		case c.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() { <-c.sem }()

		lctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		value, found, err := src.GetKey(lctx, key)
		if err != nil {
			return nil, err
		}
		e := cacheEntry{value: value, found: found}
		c.entries.Add(k, e)
		return e, nil
	})
	if err != nil {
		return nil, false, err
	}
	e := v.(cacheEntry)
	return e.value, e.found, nil
}

// purge 清除某通道的所有缓存
func (c *valueCache) purge(ch types.ChannelID) {
	for _, k := range c.entries.Keys() {
		if k.ch == ch {
			c.entries.Remove(k)
		}
	}
}
