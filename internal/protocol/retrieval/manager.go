package retrieval

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/dep2p/go-chanfetch/pkg/types"
)

// Manager 按通道管理下载器
//
// 同一通道只创建一个 Downloader；Downloader 关闭时自动注销。
type Manager struct {
	deps Deps
	opts []Option

	mu          sync.Mutex
	downloaders map[types.ChannelID]*Downloader
}

// NewManager 创建管理器
func NewManager(deps Deps, opts ...Option) *Manager {
	return &Manager{
		deps:        deps,
		opts:        opts,
		downloaders: make(map[types.ChannelID]*Downloader),
	}
}

// Downloader 返回通道的下载器，不存在时创建
func (m *Manager) Downloader(id types.ChannelID) (*Downloader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.downloaders[id]; ok {
		return d, nil
	}
	d, err := NewDownloader(id, m.deps, m.opts...)
	if err != nil {
		return nil, err
	}
	d.onClose = m.remove
	m.downloaders[id] = d
	return d, nil
}

// Get 返回已存在的下载器
func (m *Manager) Get(id types.ChannelID) (*Downloader, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.downloaders[id]
	return d, ok
}

// Len 返回下载器数
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.downloaders)
}

// DetachAll 停止所有下载器的发现查询并关闭空闲的后台检索
func (m *Manager) DetachAll() error {
	var err error
	for _, d := range m.snapshot() {
		err = multierr.Append(err, d.Detach())
	}
	return err
}

// CloseAll 关闭并注销所有下载器
func (m *Manager) CloseAll() error {
	var err error
	for _, d := range m.snapshot() {
		err = multierr.Append(err, d.Close())
	}
	return err
}

func (m *Manager) snapshot() []*Downloader {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Downloader, 0, len(m.downloaders))
	for _, d := range m.downloaders {
		out = append(out, d)
	}
	return out
}

func (m *Manager) remove(d *Downloader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.downloaders[d.id] == d {
		delete(m.downloaders, d.id)
	}
}
