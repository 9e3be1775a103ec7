package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanfetch/pkg/types"
)

// Stats 传输统计快照
type Stats struct {
	Downloaded   int64   // 累计下载字节
	Uploaded     int64   // 累计上传字节
	DownloadRate float64 // 下载速率（字节/秒）
	UploadRate   float64 // 上传速率（字节/秒）
}

// meter 单一维度的计数与速率
type meter struct {
	down, up         atomic.Int64
	downRate, upRate *RateMeter
}

func newMeter(clk clock.Clock) *meter {
	return &meter{downRate: NewRateMeter(clk), upRate: NewRateMeter(clk)}
}

func (m *meter) stats() Stats {
	return Stats{
		Downloaded:   m.down.Load(),
		Uploaded:     m.up.Load(),
		DownloadRate: m.downRate.Rate(),
		UploadRate:   m.upRate.Rate(),
	}
}

// TransferCounter 按节点与通道统计数据块字节数
type TransferCounter struct {
	clk   clock.Clock
	total *meter

	mu       sync.RWMutex
	peers    map[types.PeerID]*meter
	channels map[types.ChannelID]*meter
}

// NewTransferCounter 创建计数器
func NewTransferCounter(clk clock.Clock) *TransferCounter {
	if clk == nil {
		clk = clock.New()
	}
	return &TransferCounter{
		clk:      clk,
		total:    newMeter(clk),
		peers:    make(map[types.PeerID]*meter),
		channels: make(map[types.ChannelID]*meter),
	}
}

func (c *TransferCounter) meters(p types.PeerID, ch types.ChannelID) (*meter, *meter) {
	c.mu.RLock()
	pm, cm := c.peers[p], c.channels[ch]
	c.mu.RUnlock()
	if pm != nil && cm != nil {
		return pm, cm
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pm = c.peers[p]; pm == nil {
		pm = newMeter(c.clk)
		c.peers[p] = pm
	}
	if cm = c.channels[ch]; cm == nil {
		cm = newMeter(c.clk)
		c.channels[ch] = cm
	}
	return pm, cm
}

// LogDownloaded 记录从 p 收到的通道数据
func (c *TransferCounter) LogDownloaded(p types.PeerID, ch types.ChannelID, n int) {
	pm, cm := c.meters(p, ch)
	for _, m := range []*meter{c.total, pm, cm} {
		m.down.Add(int64(n))
		m.downRate.Add(int64(n))
	}
}

// LogUploaded 记录发给 p 的通道数据
func (c *TransferCounter) LogUploaded(p types.PeerID, ch types.ChannelID, n int) {
	pm, cm := c.meters(p, ch)
	for _, m := range []*meter{c.total, pm, cm} {
		m.up.Add(int64(n))
		m.upRate.Add(int64(n))
	}
}

// Totals 返回总计
func (c *TransferCounter) Totals() Stats {
	return c.total.stats()
}

// ForPeer 返回节点统计
func (c *TransferCounter) ForPeer(p types.PeerID) Stats {
	c.mu.RLock()
	m := c.peers[p]
	c.mu.RUnlock()
	if m == nil {
		return Stats{}
	}
	return m.stats()
}

// ForChannel 返回通道统计
func (c *TransferCounter) ForChannel(ch types.ChannelID) Stats {
	c.mu.RLock()
	m := c.channels[ch]
	c.mu.RUnlock()
	if m == nil {
		return Stats{}
	}
	return m.stats()
}

// ByPeer 返回所有节点统计
func (c *TransferCounter) ByPeer() map[types.PeerID]Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[types.PeerID]Stats, len(c.peers))
	for p, m := range c.peers {
		out[p] = m.stats()
	}
	return out
}
