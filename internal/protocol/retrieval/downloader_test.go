package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
	"github.com/dep2p/go-chanfetch/pkg/types"
	"github.com/dep2p/go-chanfetch/tests/mocks"
)

// ============================================================================
//                              基本检索
// ============================================================================

func TestDownloader_GetKey(t *testing.T) {
	e := newEnv(t)
	e.addPublisher(map[string][]byte{"k": []byte("hello")})
	e.addPublisher(map[string][]byte{"k": []byte("hello")})

	v, err := e.d.GetKey(testContext(t), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v)
	assert.Equal(t, 0, e.d.Pending())
	assert.True(t, e.d.FoundRemotely(testContext(t)))
}

func TestDownloader_ZeroLengthValue(t *testing.T) {
	e := newEnv(t)
	fp := e.addPublisher(map[string][]byte{"empty": {}})

	v, err := e.d.GetKey(testContext(t), "empty")
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Empty(t, v)

	single, multi := fp.chunkCount()
	assert.Zero(t, single+multi, "零长度的值不需要下载")
}

func TestDownloader_ChunkedValue(t *testing.T) {
	e := newEnv(t)
	fp := e.addPublisher(map[string][]byte{"big": []byte("0123456789")})
	fp.set(func(fp *fakePublisher) { fp.chunkSize = 4 })

	v, err := e.d.GetKey(testContext(t), "big")
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), v)

	single, multi := fp.chunkCount()
	assert.Equal(t, 3, single)
	assert.Zero(t, multi)
}

func TestDownloader_ConcurrentRequestsShareOne(t *testing.T) {
	e := newEnv(t)
	fp := e.addPublisher(map[string][]byte{"k": []byte("v")})
	e.net.Block(fp.peer().ID, e.client.LocalPeer().ID)

	ctx := testContext(t)
	r1 := e.d.GetKeyAsync(ctx, "k")
	r2 := e.d.GetKeyAsync(ctx, "k")
	assert.Same(t, r1, r2)
	assert.Equal(t, 1, e.d.Pending())

	e.net.Quiesce()
	assert.Equal(t, 1, fp.searchCount("k"))

	var called atomic.Int32
	r1.OnComplete(func(*KeyRequest) { called.Add(1) })
	r2.OnComplete(func(*KeyRequest) { called.Add(1) })

	assert.True(t, e.d.Cancel("k"))
	assert.False(t, e.d.Cancel("k"))

	_, err := r1.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	_, err = r2.Wait(ctx)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Eventually(t, func() bool { return called.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, e.d.Pending())
}

func TestDownloader_OnCompleteAfterDone(t *testing.T) {
	e := newEnv(t)
	e.addPublisher(map[string][]byte{"k": []byte("v")})

	ctx := testContext(t)
	r := e.d.GetKeyAsync(ctx, "k")
	_, err := r.Wait(ctx)
	require.NoError(t, err)

	ch := make(chan *KeyRequest, 1)
	r.OnComplete(func(x *KeyRequest) { ch <- x })
	select {
	case x := <-ch:
		assert.Same(t, r, x)
	case <-time.After(time.Second):
		t.Fatal("回调未执行")
	}
	info := r.Info()
	assert.True(t, info.Completed)
	assert.Equal(t, int64(1), info.Length)
	assert.Equal(t, int64(1), info.Written)
}

// ============================================================================
//                              批量与完整性
// ============================================================================

func TestDownloader_MultiKeyReplyOutOfOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxParallelSearch = 1
	cfg.MaxParallelDownload = 1
	e := newEnv(t, WithConfig(cfg))

	values := make(map[string][]byte)
	var keys []string
	for i := 1; i <= 5; i++ {
		k := fmt.Sprintf("k%d", i)
		keys = append(keys, k)
		values[k] = []byte(fmt.Sprintf("%s-%0*d", k, i, i))
	}
	fp := e.addPublisher(values)
	gate := make(chan struct{})
	fp.set(func(fp *fakePublisher) {
		fp.reverse = true
		fp.gate = gate
	})

	ctx := testContext(t)
	reqs := make([]*KeyRequest, 0, len(keys))
	for _, k := range keys {
		reqs = append(reqs, e.d.GetKeyAsync(ctx, k))
	}
	close(gate)

	for i, r := range reqs {
		v, err := r.Wait(ctx)
		require.NoError(t, err, keys[i])
		assert.Equal(t, values[keys[i]], v, keys[i])
	}

	_, multi := fp.chunkCount()
	assert.GreaterOrEqual(t, multi, 1, "排队的整块应当合并成多键批次")
}

func TestDownloader_NoRedundantSearch(t *testing.T) {
	e := newEnv(t)
	values := map[string][]byte{"a": []byte("1"), "b": []byte("22"), "c": []byte("333"), "d": []byte("4444")}
	fps := []*fakePublisher{e.addPublisher(values), e.addPublisher(values), e.addPublisher(values)}

	ctx := testContext(t)
	var wg sync.WaitGroup
	for k := range values {
		k := k
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := e.d.GetKey(ctx, k)
			assert.NoError(t, err)
			assert.Equal(t, values[k], v)
		}()
	}
	wg.Wait()
	e.net.Quiesce()

	for k := range values {
		total := 0
		for _, fp := range fps {
			n := fp.searchCount(k)
			assert.LessOrEqual(t, n, 1, "同一发布者不应被重复询问 %s", k)
			total += n
		}
		assert.Equal(t, 1, total, "新请求只询问一个发布者")
	}
}

// 默认路由：新请求只发给负载最小的一个发布者
func TestDownloader_RoutesToLeastLoadedPublisher(t *testing.T) {
	e := newEnv(t)
	values := map[string][]byte{"k1": []byte("1"), "k2": []byte("2")}
	gate := make(chan struct{})
	a := e.addPublisher(values)
	b := e.addPublisher(values)
	a.set(func(fp *fakePublisher) { fp.gate = gate })
	b.set(func(fp *fakePublisher) { fp.gate = gate })

	ctx := testContext(t)
	r1 := e.d.GetKeyAsync(ctx, "k1")
	require.Eventually(t, func() bool {
		return a.searchCount("k1")+b.searchCount("k1") == 1
	}, 2*time.Second, 5*time.Millisecond)

	// 让第一个发布者积压一个排队条目，第二个请求应当发往另一个
	first, second := a, b
	if b.searchCount("k1") == 1 {
		first, second = b, a
	}
	e.d.mu.Lock()
	ps := e.d.publishers[first.peer().ID]
	ps.pendingSearch = append(ps.pendingSearch, newKeyRequest("queued", &e.d.mu, e.clk.Now()))
	e.d.mu.Unlock()

	r2 := e.d.GetKeyAsync(ctx, "k2")
	require.Eventually(t, func() bool { return second.searchCount("k2") == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, first.searchCount("k2"))
	assert.Equal(t, 1, first.searchCount("k1"))

	e.d.mu.Lock()
	ps.pendingSearch = nil
	e.d.mu.Unlock()
	close(gate)
	for _, r := range []*KeyRequest{r1, r2} {
		_, err := r.Wait(ctx)
		require.NoError(t, err)
	}
}

// ============================================================================
//                              往返时间
// ============================================================================

// 完成请求的搜索批次与下载批次都计入往返时间
func TestDownloader_RecordsRoundTripForCompletingBatches(t *testing.T) {
	e := newEnv(t)
	e.addPublisher(map[string][]byte{"a": []byte("1"), "b": []byte("22"), "c": []byte("333")})

	ctx := testContext(t)
	for _, k := range []string{"a", "b", "c"} {
		_, err := e.d.GetKey(ctx, k)
		require.NoError(t, err, k)
	}

	e.d.mu.Lock()
	ps := e.d.order[0]
	n := len(e.d.order)
	samples, searches, downloads := ps.rtt.Samples(), len(ps.searches), len(ps.downloads)
	e.d.mu.Unlock()
	require.Equal(t, 1, n)
	assert.Equal(t, 6, samples, "三个搜索批次加三个下载批次")
	assert.Zero(t, searches)
	assert.Zero(t, downloads)
}

func TestDownloader_RecordsRoundTripForZeroLengthKey(t *testing.T) {
	e := newEnv(t)
	e.addPublisher(map[string][]byte{"empty": {}})

	_, err := e.d.GetKey(testContext(t), "empty")
	require.NoError(t, err)

	e.d.mu.Lock()
	samples := e.d.order[0].rtt.Samples()
	e.d.mu.Unlock()
	assert.Equal(t, 1, samples)
}

// ============================================================================
//                              失败路径
// ============================================================================

func TestDownloader_NotFoundAnywhere(t *testing.T) {
	e := newEnv(t)
	fps := []*fakePublisher{e.addPublisher(nil), e.addPublisher(nil), e.addPublisher(nil)}

	_, err := e.d.GetKey(testContext(t), "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	e.net.Quiesce()
	for _, fp := range fps {
		assert.Equal(t, 1, fp.searchCount("missing"), "每个发布者恰好询问一次")
	}
	assert.Equal(t, 0, e.d.Pending())
}

func TestDownloader_NoPublishers(t *testing.T) {
	e := newEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r := e.d.GetKeyAsync(ctx, "k")

	_, ok, err := r.Result()
	require.True(t, ok, "没有发布者时请求立即失败")
	assert.ErrorIs(t, err, ErrNoPublishers)
	assert.False(t, e.d.Streaming())
	assert.False(t, e.d.FoundRemotely(context.Background()))
}

// 长度与已确认长度不一致的应答视为未找到
func TestDownloader_LengthDisagreementTreatedAsNotFound(t *testing.T) {
	e := newEnv(t, WithSearchFanout(2))
	a := e.addPublisher(map[string][]byte{"k": []byte("abc")})
	a.set(func(fp *fakePublisher) { fp.dropChunks = true })
	gate := make(chan struct{})
	b := e.addPublisher(map[string][]byte{"k": []byte("abcdef")})
	b.set(func(fp *fakePublisher) { fp.gate = gate })

	ctx := testContext(t)
	r := e.d.GetKeyAsync(ctx, "k")
	require.Eventually(t, func() bool {
		single, _ := a.chunkCount()
		return single == 1
	}, 2*time.Second, 5*time.Millisecond)
	close(gate)
	e.net.Quiesce()

	e.advanceUntil(finished(r))
	_, err := r.Wait(ctx)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	bSingle, bMulti := b.chunkCount()
	assert.Zero(t, bSingle+bMulti, "长度不一致的发布者不会被用于下载")
}

func TestDownloader_Close(t *testing.T) {
	e := newEnv(t)
	fp := e.addPublisher(map[string][]byte{"k": []byte("v")})
	fp.set(func(fp *fakePublisher) { fp.dropInfo = true })

	ctx := testContext(t)
	r := e.d.GetKeyAsync(ctx, "k")
	require.NoError(t, e.d.Close())

	_, err := r.Wait(ctx)
	assert.ErrorIs(t, err, ErrDownloaderClosed)
	assert.False(t, e.d.Streaming())
	assert.Zero(t, e.client.HandlerCount(types.MessageDataInfo))

	_, err = e.d.GetKeyAsync(ctx, "other").Wait(ctx)
	assert.ErrorIs(t, err, ErrDownloaderClosed)
	assert.False(t, e.query.Started())
	assert.NoError(t, e.d.Close())
}

// ============================================================================
//                              超时与转交
// ============================================================================

// 先应答的发布者只确认不交付，值最终从另一个发布者取得
func TestDownloader_DownloadFailsOverToOtherPublisher(t *testing.T) {
	e := newEnv(t, WithSearchFanout(2))
	a := e.addPublisher(map[string][]byte{"k": []byte("payload")})
	b := e.addPublisher(map[string][]byte{"k": []byte("payload")})
	a.set(func(fp *fakePublisher) { fp.dropChunks = true })
	e.net.Block(b.peer().ID, e.client.LocalPeer().ID)

	ctx := testContext(t)
	r := e.d.GetKeyAsync(ctx, "k")
	require.Eventually(t, func() bool {
		single, _ := a.chunkCount()
		return single == 1
	}, 2*time.Second, 5*time.Millisecond)
	e.net.Unblock(b.peer().ID, e.client.LocalPeer().ID)

	e.advanceUntil(finished(r))
	v, err := r.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), v)

	single, _ := a.chunkCount()
	assert.Equal(t, 2, single, "块在同一发布者上尝试两次后转交")
	bSingle, _ := b.chunkCount()
	assert.GreaterOrEqual(t, bSingle, 1)
}

// 第一个发布者没有该键，请求转向下一个发布者
func TestDownloader_SearchMovesOnWhenNotFound(t *testing.T) {
	e := newEnv(t)
	p := e.addPublisher(nil)
	q := e.addPublisher(map[string][]byte{"k": []byte("from-q")})

	v, err := e.d.GetKey(testContext(t), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-q"), v)
	assert.Equal(t, 1, p.searchCount("k"))
	assert.Equal(t, 1, q.searchCount("k"))
}

// 第一个发布者一直不应答，两次超时后视为未找到
func TestDownloader_SilentPublisherTimesOut(t *testing.T) {
	e := newEnv(t)
	p := e.addPublisher(map[string][]byte{"k": []byte("from-p")})
	p.set(func(fp *fakePublisher) { fp.dropInfo = true })
	q := e.addPublisher(map[string][]byte{"k": []byte("from-q")})

	ctx := testContext(t)
	r := e.d.GetKeyAsync(ctx, "k")
	e.net.Quiesce()
	assert.Zero(t, q.searchCount("k"), "默认只询问第一个发布者")

	e.advanceUntil(finished(r))
	v, err := r.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("from-q"), v)
	assert.Equal(t, 2, p.searchCount("k"))
}

// 两个发布者同时搜索：A 一直不应答，B 延迟后找到；请求从 B 完成后，
// A 的在途批次被撤销，之后的超时不会影响已完成的请求
func TestDownloader_StaleBatchDiscardedAfterCompletion(t *testing.T) {
	e := newEnv(t, WithSearchFanout(2))
	a := e.addPublisher(map[string][]byte{"k": []byte("from-a")})
	a.set(func(fp *fakePublisher) { fp.dropInfo = true })
	gate := make(chan struct{})
	b := e.addPublisher(map[string][]byte{"k": []byte("from-b")})
	b.set(func(fp *fakePublisher) { fp.gate = gate })

	ctx := testContext(t)
	r := e.d.GetKeyAsync(ctx, "k")
	require.Eventually(t, func() bool {
		return a.searchCount("k") == 1 && b.searchCount("k") == 1
	}, 2*time.Second, 5*time.Millisecond)

	e.d.mu.Lock()
	aState := e.d.publishers[a.peer().ID]
	inFlight := len(aState.searches)
	e.d.mu.Unlock()
	require.Equal(t, 1, inFlight, "A 的搜索批次在途")

	close(gate)
	v, err := r.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("from-b"), v)

	e.d.mu.Lock()
	inFlight, queued := len(aState.searches), len(aState.pendingSearch)
	e.d.mu.Unlock()
	assert.Zero(t, inFlight, "请求完成后 A 的批次被撤销")
	assert.Zero(t, queued)

	// 推进到超时之后
	for i := 0; i < 4; i++ {
		e.clk.Add(30 * time.Second)
	}
	e.net.Quiesce()
	assert.Equal(t, 0, e.d.Pending())
	assert.Equal(t, 1, a.searchCount("k"), "超时不会再次询问 A")
	v, err = r.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("from-b"), v)
	info := r.Info()
	assert.True(t, info.Completed)
	assert.Equal(t, int64(6), info.Written)
}

func TestDownloader_AllSilentFails(t *testing.T) {
	e := newEnv(t)
	p := e.addPublisher(nil)
	p.set(func(fp *fakePublisher) { fp.dropInfo = true })

	ctx := testContext(t)
	r := e.d.GetKeyAsync(ctx, "k")
	e.advanceUntil(finished(r))
	_, err := r.Wait(ctx)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

// ============================================================================
//                              空闲关闭
// ============================================================================

func TestDownloader_IdleShutdownAndRestart(t *testing.T) {
	e := newEnv(t)
	e.addPublisher(map[string][]byte{"k": []byte("v")})

	ctx := testContext(t)
	_, err := e.d.GetKey(ctx, "k")
	require.NoError(t, err)
	require.True(t, e.d.Streaming())
	assert.Equal(t, 1, e.client.HandlerCount(types.MessageDataChunk))

	e.clk.Add(time.Second)
	require.Eventually(t, func() bool { return !e.d.Streaming() }, time.Second, 5*time.Millisecond)
	assert.Zero(t, e.client.HandlerCount(types.MessageDataInfo))
	assert.Zero(t, e.client.HandlerCount(types.MessageDataChunk))

	v, err := e.d.GetKey(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
	assert.True(t, e.d.Streaming())
}

func TestDownloader_Detach(t *testing.T) {
	e := newEnv(t)
	e.addPublisher(map[string][]byte{"k": []byte("v")})

	_, err := e.d.GetKey(testContext(t), "k")
	require.NoError(t, err)
	require.True(t, e.query.Started())

	require.NoError(t, e.d.Detach())
	assert.False(t, e.query.Started())
	assert.False(t, e.d.Streaming())
}

// ============================================================================
//                              发送失败与证书
// ============================================================================

func TestDownloader_SendFailureRetriedOnTick(t *testing.T) {
	clk := clock.NewMock()
	id := types.ChannelID{Proc: types.ProcRef{ID: uuid.New(), Version: 1}, Code: "grid"}
	tr := mocks.NewMockTransport("client")
	pub := types.PeerInfo{ID: "publisher"}
	conn := tr.Conn(pub)
	var failures atomic.Int32
	failures.Store(1)
	conn.SendFunc = func(context.Context, *types.Message) error {
		if failures.Add(-1) >= 0 {
			return errors.New("link down")
		}
		return nil
	}

	disc := mocks.NewMockDiscovery()
	q := disc.Query(id.Proc.ID.String())
	q.Now = clk.Now
	cert := &types.Certificate{Subject: "client", Resource: id.Proc, NotAfter: time.Now().Add(time.Hour)}
	retainer := &mocks.MockRetainer{Cert: cert}

	d, err := NewDownloader(id, Deps{Transport: tr, Discovery: disc, Retainer: retainer, Clock: clk})
	require.NoError(t, err)
	defer d.Close()
	require.True(t, q.AddResult(announcement(id, pub)))

	ctx := testContext(t)
	r := d.GetKeyAsync(ctx, "k")
	require.Len(t, conn.SentOfType(types.MessageDataInfoRequest), 1)

	clk.Add(time.Second)
	require.Eventually(t, func() bool {
		return len(conn.SentOfType(types.MessageDataInfoRequest)) == 2
	}, time.Second, 5*time.Millisecond)

	info := &pb.DataInfo{DataSet: id.DataSet(), Found: true, ChunkSize: 100, Extra: &pb.Extra{MultiKeyInfo: &pb.MultiKeyInfo{
		Version: id.Proc.Version, Code: id.Code, Keys: []pb.KeyInfo{{Key: "k", Found: true, Length: 3}},
	}}}
	tr.Deliver(pub.ID, types.NewMessage(types.MessageDataInfo, info.Marshal()))

	chunkReqs := conn.SentOfType(types.MessageDataChunkRequest)
	require.Len(t, chunkReqs, 1)
	var req pb.DataChunkRequest
	require.NoError(t, req.Unmarshal(chunkReqs[0].Payload))
	assert.Equal(t, pb.ExtraKeyRequest, req.Extra.Kind())
	assert.Equal(t, int64(0), req.Offset)
	assert.Equal(t, int32(3), req.Size)
	require.NotNil(t, req.Certificate)
	assert.Equal(t, types.PeerID("client"), req.Certificate.Subject)

	reply := &pb.DataChunk{DataSet: id.DataSet(), Data: []byte("abc"), Extra: req.Extra}
	tr.Deliver(pub.ID, types.NewMessage(types.MessageDataChunk, reply.Marshal()))

	v, err := r.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v)
	assert.GreaterOrEqual(t, retainer.Calls(), 1)
}

func TestDownloader_IgnoresForeignReplies(t *testing.T) {
	clk := clock.NewMock()
	id := types.ChannelID{Proc: types.ProcRef{ID: uuid.New(), Version: 1}, Code: "grid"}
	tr := mocks.NewMockTransport("client")
	pub := types.PeerInfo{ID: "publisher"}
	conn := tr.Conn(pub)

	disc := mocks.NewMockDiscovery()
	disc.Query(id.Proc.ID.String()).Now = clk.Now
	d, err := NewDownloader(id, Deps{Transport: tr, Discovery: disc, Clock: clk})
	require.NoError(t, err)
	defer d.Close()
	require.True(t, disc.Query(id.Proc.ID.String()).AddResult(announcement(id, pub)))

	r := d.GetKeyAsync(testContext(t), "k")
	require.Len(t, conn.SentOfType(types.MessageDataInfoRequest), 1)

	found := []pb.KeyInfo{{Key: "k", Found: true, Length: 3}}
	// 错误的版本
	wrong := &pb.DataInfo{DataSet: id.DataSet(), Extra: &pb.Extra{MultiKeyInfo: &pb.MultiKeyInfo{Version: 9, Code: id.Code, Keys: found}}}
	tr.Deliver(pub.ID, types.NewMessage(types.MessageDataInfo, wrong.Marshal()))
	// 未连接的节点
	ok := &pb.DataInfo{DataSet: id.DataSet(), Extra: &pb.Extra{MultiKeyInfo: &pb.MultiKeyInfo{Version: id.Proc.Version, Code: id.Code, Keys: found}}}
	tr.Deliver("stranger", types.NewMessage(types.MessageDataInfo, ok.Marshal()))

	assert.Empty(t, conn.SentOfType(types.MessageDataChunkRequest))
	_, isDone, _ := r.Result()
	assert.False(t, isDone)
}
