package retrieval

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// DiscoverySet 维护声称发布某通道的远端节点名单
//
// 查询字符串为流程 GUID；只接受公告版本一致且包含该通道码的结果。
// 重新查询时，上一轮的结果保留为旧名单并与新名单合并。
type DiscoverySet struct {
	id      types.ChannelID
	local   types.PeerID
	query   interfaces.Query
	clk     clock.Clock
	waitFor time.Duration
	requery time.Duration

	mu  sync.Mutex
	old []types.PeerInfo
}

// NewDiscoverySet 创建发现集合（查询尚未启动）
func NewDiscoverySet(id types.ChannelID, local types.PeerID, disc interfaces.Discovery, clk clock.Clock, waitFor, requery time.Duration) *DiscoverySet {
	if clk == nil {
		clk = clock.New()
	}
	s := &DiscoverySet{
		id:      id,
		local:   local,
		query:   disc.NewQuery(id.Proc.ID.String()),
		clk:     clk,
		waitFor: waitFor,
		requery: requery,
	}
	s.query.SetFilter(s.accept)
	return s
}

// accept 查询结果过滤器
func (s *DiscoverySet) accept(r interfaces.QueryResult) bool {
	if r.Peer.ID == s.local || r.Peer.ID.IsEmpty() {
		return false
	}
	if r.DataSet != s.id.DataSet() {
		return false
	}
	extra, err := pb.DecodeExtra(r.Extra)
	if err != nil || extra.Kind() != pb.ExtraAnnouncement {
		return false
	}
	a := extra.Announcement
	if a.Version != s.id.Proc.Version || !a.HasChannel(s.id.Code) {
		return false
	}
	for _, x := range s.query.Results() {
		if x.Peer.ID == r.Peer.ID {
			return false
		}
	}
	return true
}

// EnsureActive 保证查询在运行
//
// 未启动时启动；零结果且运行超过 waitFor，或有结果且运行超过 requery 时重启。
func (s *DiscoverySet) EnsureActive() {
	s.mu.Lock()
	defer s.mu.Unlock()

	restart := !s.query.Started()
	if !restart {
		elapsed := s.clk.Since(s.query.StartedAt())
		if n := s.query.Count(); n == 0 {
			restart = elapsed > s.waitFor
		} else {
			restart = elapsed > s.requery
		}
	}
	if !restart {
		return
	}

	if s.query.Started() {
		s.query.Stop()
	}
	if prev := peersOf(s.query.Results()); len(prev) > 0 {
		s.old = prev
	}
	s.query.Clear()
	s.query.Start()
	logger.Debug("启动发布者查询", "channel", s.id.String(), "old", len(s.old))
}

// Peers 返回当前名单：新结果优先，旧名单中不重复的节点追加在后
func (s *DiscoverySet) Peers() []types.PeerInfo {
	s.mu.Lock()
	old := s.old
	s.mu.Unlock()

	peers := peersOf(s.query.Results())
	seen := make(map[types.PeerID]bool, len(peers)+len(old))
	for _, p := range peers {
		seen[p.ID] = true
	}
	for _, p := range old {
		if !seen[p.ID] {
			seen[p.ID] = true
			peers = append(peers, p)
		}
	}
	return peers
}

// Count 返回名单大小
func (s *DiscoverySet) Count() int { return len(s.Peers()) }

// WaitForAny 阻塞直到名单非空或超时，返回名单是否非空
func (s *DiscoverySet) WaitForAny(ctx context.Context, timeout time.Duration) bool {
	if s.Count() > 0 {
		return true
	}
	ctx, cancel := s.clk.WithTimeout(ctx, timeout)
	defer cancel()
	_ = s.query.WaitForResults(ctx, 1)
	return s.Count() > 0
}

// Stop 停止查询
func (s *DiscoverySet) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.query.Started() {
		s.query.Stop()
	}
}

func peersOf(results []interfaces.QueryResult) []types.PeerInfo {
	peers := make([]types.PeerInfo, 0, len(results))
	for _, r := range results {
		peers = append(peers, r.Peer)
	}
	return peers
}
