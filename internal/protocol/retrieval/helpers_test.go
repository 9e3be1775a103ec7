package retrieval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanfetch/internal/core/transport/memory"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
	"github.com/dep2p/go-chanfetch/pkg/types"
	"github.com/dep2p/go-chanfetch/tests/mocks"
)

// ============================================================================
//                              fakePublisher
// ============================================================================

// fakePublisher 可编排行为的发布者
type fakePublisher struct {
	tr        *memory.Transport
	id        types.ChannelID
	chunkSize int32

	mu         sync.Mutex
	values     map[string][]byte
	reverse    bool          // 多键应答倒序
	dropInfo   bool          // 不回复搜索
	dropChunks bool          // 不回复下载
	gate       chan struct{} // 非 nil 时回复前等待其关闭
	searched   map[string]int
	chunkReqs  int
	multiReqs  int
}

func newFakePublisher(net *memory.Network, id types.ChannelID, values map[string][]byte) *fakePublisher {
	fp := &fakePublisher{
		tr:        net.NewPeer(),
		id:        id,
		chunkSize: pb.DefaultChunkSize,
		values:    values,
		searched:  make(map[string]int),
	}
	if fp.values == nil {
		fp.values = make(map[string][]byte)
	}
	fp.tr.RegisterHandler(types.MessageDataInfoRequest, fp.handleInfo)
	fp.tr.RegisterHandler(types.MessageDataChunkRequest, fp.handleChunk)
	return fp
}

func (fp *fakePublisher) peer() types.PeerInfo { return fp.tr.LocalPeer() }

func (fp *fakePublisher) set(fn func(fp *fakePublisher)) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fn(fp)
}

func (fp *fakePublisher) searchCount(key string) int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.searched[key]
}

func (fp *fakePublisher) chunkCount() (single, multi int) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.chunkReqs, fp.multiReqs
}

func (fp *fakePublisher) wait() {
	fp.mu.Lock()
	gate := fp.gate
	fp.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (fp *fakePublisher) send(to types.PeerID, mt types.MessageType, payload []byte) {
	conn, err := fp.tr.Connect(context.Background(), types.PeerInfo{ID: to})
	if err != nil {
		return
	}
	_ = conn.Send(context.Background(), types.NewMessage(mt, payload))
}

func (fp *fakePublisher) handleInfo(from types.PeerID, msg *types.Message) {
	var req pb.DataInfoRequest
	if err := req.Unmarshal(msg.Payload); err != nil || req.Extra.Kind() != pb.ExtraMultiKeyRequest {
		return
	}
	mk := req.Extra.MultiKeyRequest

	fp.mu.Lock()
	for _, k := range mk.Keys {
		fp.searched[k]++
	}
	drop := fp.dropInfo
	info := &pb.MultiKeyInfo{Version: mk.Version, Code: mk.Code}
	for _, k := range orderKeys(mk.Keys, fp.reverse) {
		v, ok := fp.values[k]
		info.Keys = append(info.Keys, pb.KeyInfo{Key: k, Found: ok, Length: int64(len(v))})
	}
	fp.mu.Unlock()

	fp.wait()
	if drop {
		return
	}
	reply := &pb.DataInfo{DataSet: req.DataSet, Found: true, ChunkSize: fp.chunkSize, Extra: &pb.Extra{MultiKeyInfo: info}}
	fp.send(from, types.MessageDataInfo, reply.Marshal())
}

func (fp *fakePublisher) handleChunk(from types.PeerID, msg *types.Message) {
	var req pb.DataChunkRequest
	if err := req.Unmarshal(msg.Payload); err != nil {
		return
	}
	reply := &pb.DataChunk{DataSet: req.DataSet}

	fp.mu.Lock()
	drop := fp.dropChunks
	switch req.Extra.Kind() {
	case pb.ExtraKeyRequest:
		fp.chunkReqs++
		v := fp.values[req.Extra.KeyRequest.Key]
		if req.Offset >= int64(len(v)) {
			fp.mu.Unlock()
			return
		}
		end := req.Offset + int64(req.Size)
		if end > int64(len(v)) {
			end = int64(len(v))
		}
		reply.Offset = req.Offset
		reply.Data = append([]byte(nil), v[req.Offset:end]...)
		reply.Extra = req.Extra
	case pb.ExtraMultiKeyRequest:
		fp.multiReqs++
		mk := req.Extra.MultiKeyRequest
		included := &pb.MultiKeyRequest{Version: mk.Version, Code: mk.Code}
		for _, k := range orderKeys(mk.Keys, fp.reverse) {
			v, ok := fp.values[k]
			if !ok || len(reply.Data)+len(v) > int(req.Size) {
				continue
			}
			included.Keys = append(included.Keys, k)
			reply.Data = append(reply.Data, v...)
		}
		reply.Extra = &pb.Extra{MultiKeyRequest: included}
	default:
		fp.mu.Unlock()
		return
	}
	fp.mu.Unlock()

	fp.wait()
	if drop {
		return
	}
	fp.send(from, types.MessageDataChunk, reply.Marshal())
}

func orderKeys(keys []string, reverse bool) []string {
	out := append([]string(nil), keys...)
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// ============================================================================
//                              测试环境
// ============================================================================

type env struct {
	t      *testing.T
	net    *memory.Network
	clk    *clock.Mock
	client *memory.Transport
	disc   *mocks.MockDiscovery
	query  *mocks.MockQuery
	id     types.ChannelID
	d      *Downloader
}

func newEnv(t *testing.T, opts ...Option) *env {
	t.Helper()
	e := &env{
		t:    t,
		net:  memory.NewNetwork(),
		clk:  clock.NewMock(),
		disc: mocks.NewMockDiscovery(),
		id:   types.ChannelID{Proc: types.ProcRef{ID: uuid.New(), Version: 2}, Code: "elevation"},
	}
	e.client = e.net.NewPeer()
	e.query = e.disc.Query(e.id.Proc.ID.String())
	e.query.Now = e.clk.Now

	d, err := NewDownloader(e.id, Deps{Transport: e.client, Discovery: e.disc, Clock: e.clk}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	e.d = d
	return e
}

// addPublisher 创建发布者并加入发现结果
func (e *env) addPublisher(values map[string][]byte) *fakePublisher {
	fp := newFakePublisher(e.net, e.id, values)
	require.True(e.t, e.query.AddResult(announcement(e.id, fp.peer())))
	return fp
}

func announcement(id types.ChannelID, peer types.PeerInfo) interfaces.QueryResult {
	extra := &pb.Extra{Announcement: &pb.Announcement{Version: id.Proc.Version, Channels: []string{id.Code}}}
	return interfaces.QueryResult{Peer: peer, DataSet: id.DataSet(), Extra: extra.Marshal()}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// advanceUntil 逐步推进模拟时钟直到条件成立
func (e *env) advanceUntil(cond func() bool) {
	e.t.Helper()
	require.Eventually(e.t, func() bool {
		if cond() {
			return true
		}
		e.clk.Add(5 * time.Second)
		return cond()
	}, 5*time.Second, 10*time.Millisecond)
}

func finished(r *KeyRequest) func() bool {
	return func() bool {
		_, ok, _ := r.Result()
		return ok
	}
}
