package storage

import (
	"context"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// ChannelStore 单个通道的键值视图
type ChannelStore struct {
	store  *Store
	prefix []byte
}

var _ interfaces.KeyProvider = (*ChannelStore)(nil)

// Channel 返回通道视图
func (s *Store) Channel(id types.ChannelID) *ChannelStore {
	return &ChannelStore{store: s, prefix: []byte("c/" + id.String() + "/")}
}

func (c *ChannelStore) key(k string) []byte {
	b := make([]byte, 0, len(c.prefix)+len(k))
	b = append(b, c.prefix...)
	return append(b, k...)
}

// Put 写入通道键
func (c *ChannelStore) Put(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	return c.store.Put(c.key(key), value)
}

// Delete 删除通道键
func (c *ChannelStore) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return c.store.Delete(c.key(key))
}

// GetKey 实现 interfaces.KeyProvider
func (c *ChannelStore) GetKey(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if key == "" {
		return nil, false, nil
	}
	return c.store.Get(c.key(key))
}

// Keys 列出通道内全部键
func (c *ChannelStore) Keys() ([]string, error) {
	raw, err := c.store.Keys(c.prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = string(k)
	}
	return keys, nil
}
