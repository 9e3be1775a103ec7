package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
	"github.com/dep2p/go-chanfetch/pkg/types"
	"github.com/dep2p/go-chanfetch/tests/mocks"
)

func newTestSet(t *testing.T) (*DiscoverySet, *mocks.MockQuery, *clock.Mock, types.ChannelID) {
	t.Helper()
	clk := clock.NewMock()
	id := types.ChannelID{Proc: types.ProcRef{ID: uuid.New(), Version: 4}, Code: "temperature"}
	disc := mocks.NewMockDiscovery()
	q := disc.Query(id.Proc.ID.String())
	q.Now = clk.Now
	s := NewDiscoverySet(id, "local", disc, clk, 45*time.Second, 180*time.Second)
	return s, q, clk, id
}

func TestDiscoverySet_Filter(t *testing.T) {
	_, q, _, id := newTestSet(t)

	withExtra := func(peer types.PeerID, a *pb.Announcement) interfaces.QueryResult {
		return interfaces.QueryResult{
			Peer:    types.PeerInfo{ID: peer},
			DataSet: id.DataSet(),
			Extra:   (&pb.Extra{Announcement: a}).Marshal(),
		}
	}
	good := &pb.Announcement{Version: id.Proc.Version, Channels: []string{"other", id.Code}}

	assert.True(t, q.AddResult(withExtra("p1", good)))
	assert.False(t, q.AddResult(withExtra("p1", good)), "重复节点")
	assert.False(t, q.AddResult(withExtra("local", good)), "本节点")
	assert.False(t, q.AddResult(withExtra("", good)), "空节点")
	assert.False(t, q.AddResult(withExtra("p2", &pb.Announcement{Version: id.Proc.Version + 1, Channels: []string{id.Code}})), "版本不一致")
	assert.False(t, q.AddResult(withExtra("p3", &pb.Announcement{Version: id.Proc.Version, Channels: []string{"other"}})), "缺少通道")

	wrongSet := withExtra("p4", good)
	wrongSet.DataSet = uuid.New()
	assert.False(t, q.AddResult(wrongSet), "数据集不一致")

	noExtra := withExtra("p5", good)
	noExtra.Extra = nil
	assert.False(t, q.AddResult(noExtra), "没有公告")

	assert.Equal(t, 1, q.Count())
}

func TestDiscoverySet_RestartKeepsOldPeers(t *testing.T) {
	s, q, clk, id := newTestSet(t)

	s.EnsureActive()
	require.True(t, q.Started())
	require.True(t, q.AddResult(announcement(id, types.PeerInfo{ID: "p1"})))
	assert.Equal(t, []types.PeerID{"p1"}, peerIDs(s.Peers()))

	// 有结果时未到重新查询间隔不重启
	clk.Add(60 * time.Second)
	s.EnsureActive()
	assert.Equal(t, 1, q.StartCalls)

	clk.Add(150 * time.Second)
	s.EnsureActive()
	assert.Equal(t, 2, q.StartCalls)
	assert.Zero(t, q.Count())
	assert.Equal(t, []types.PeerID{"p1"}, peerIDs(s.Peers()), "上一轮结果保留为旧名单")

	require.True(t, q.AddResult(announcement(id, types.PeerInfo{ID: "p2"})))
	require.True(t, q.AddResult(announcement(id, types.PeerInfo{ID: "p1"})))
	assert.Equal(t, []types.PeerID{"p2", "p1"}, peerIDs(s.Peers()), "新结果优先且不重复")
}

func TestDiscoverySet_RestartWhenEmpty(t *testing.T) {
	s, q, clk, _ := newTestSet(t)

	s.EnsureActive()
	clk.Add(30 * time.Second)
	s.EnsureActive()
	assert.Equal(t, 1, q.StartCalls)

	clk.Add(20 * time.Second)
	s.EnsureActive()
	assert.Equal(t, 2, q.StartCalls, "零结果超过等待时间后重启")
	assert.Equal(t, 1, q.StopCalls)
}

func TestDiscoverySet_WaitForAny(t *testing.T) {
	s, q, _, id := newTestSet(t)
	s.EnsureActive()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, s.WaitForAny(ctx, time.Minute))

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.AddResult(announcement(id, types.PeerInfo{ID: "p1"}))
	}()
	assert.True(t, s.WaitForAny(testContext(t), time.Minute))
	assert.Equal(t, 1, s.Count())

	s.Stop()
	assert.False(t, q.Started())
}

func peerIDs(peers []types.PeerInfo) []types.PeerID {
	out := make([]types.PeerID, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.ID)
	}
	return out
}
