package channel

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanfetch/internal/core/eventbus"
	"github.com/dep2p/go-chanfetch/internal/core/transport/memory"
	"github.com/dep2p/go-chanfetch/internal/discovery/query"
	"github.com/dep2p/go-chanfetch/internal/protocol/publisher"
	"github.com/dep2p/go-chanfetch/internal/protocol/retrieval"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
	"github.com/dep2p/go-chanfetch/tests/mocks"
)

// node 一个完整装配的节点（发布 + 检索 + 查询 + 事件）
type node struct {
	tr  *memory.Transport
	bus *eventbus.Bus
	pub *publisher.Publisher
	mgr *retrieval.Manager
	reg *Registry
}

func newNode(t *testing.T, net *memory.Network, known ...types.PeerInfo) *node {
	t.Helper()
	tr := net.NewPeer()
	qs, err := query.New(tr, query.WithKnownPeers(known...))
	require.NoError(t, err)
	pub, err := publisher.New(tr, nil, nil)
	require.NoError(t, err)
	removeResponder := qs.AddResponder(pub)

	bus := eventbus.NewBus()
	mgr := retrieval.NewManager(retrieval.Deps{Transport: tr, Discovery: qs}, retrieval.WithWaitForPublisher(2*time.Second))
	reg, err := NewRegistry(Deps{Manager: mgr, Publisher: pub, Bus: bus})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = reg.Close()
		_ = mgr.CloseAll()
		removeResponder()
		_ = pub.Close()
		_ = qs.Close()
		_ = bus.Close()
	})
	return &node{tr: tr, bus: bus, pub: pub, mgr: mgr, reg: reg}
}

func testChannelID() types.ChannelID {
	return types.ChannelID{Proc: types.ProcRef{ID: uuid.New(), Version: 1}, Code: "elevation"}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func subscribe(t *testing.T, bus *eventbus.Bus, typ interface{}) interfaces.Subscription {
	t.Helper()
	sub, err := bus.Subscribe(typ, interfaces.BufSize(8))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func next(t *testing.T, sub interfaces.Subscription) interface{} {
	t.Helper()
	select {
	case evt := <-sub.Out():
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("未收到事件")
		return nil
	}
}

// publishing 在 a 上发布一个通道并返回其数据源
func publishing(t *testing.T, a *node, id types.ChannelID, values map[string][]byte) *mocks.MockKeyProvider {
	t.Helper()
	src := mocks.NewMockKeyProvider()
	for k, v := range values {
		src.Set(k, v)
	}
	ch := a.reg.Create(id)
	require.NoError(t, ch.AttachLocal(src))
	require.NoError(t, ch.Publish([]byte("definition"), nil))
	return src
}

// ============================================================================
//                              测试
// ============================================================================

func TestChannel_RemoteFetch(t *testing.T) {
	net := memory.NewNetwork()
	a := newNode(t, net)
	b := newNode(t, net, a.tr.LocalPeer())
	id := testChannelID()
	publishing(t, a, id, map[string][]byte{"k": []byte("value")})

	requested := subscribe(t, b.bus, new(types.EvtKeyRequested))
	provided := subscribe(t, b.bus, new(types.EvtKeyProvided))

	ch := b.reg.Create(id)
	assert.True(t, ch.FoundRemotely(testContext(t)))
	v, err := ch.GetKey(testContext(t), "k", FromRemote)
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), v)

	req := next(t, requested).(types.EvtKeyRequested)
	assert.Equal(t, id, req.Channel)
	assert.Equal(t, "k", req.Key)
	assert.True(t, req.Remote)

	got := next(t, provided).(types.EvtKeyProvided)
	assert.Equal(t, 5, got.Size)
	assert.True(t, got.Remote)
}

func TestChannel_FromAnyFallsBackToRemote(t *testing.T) {
	net := memory.NewNetwork()
	a := newNode(t, net)
	b := newNode(t, net, a.tr.LocalPeer())
	id := testChannelID()
	publishing(t, a, id, map[string][]byte{"remote-only": []byte("r")})

	ch := b.reg.Create(id)
	local := mocks.NewMockKeyProvider()
	local.Set("local", []byte("l"))
	require.NoError(t, ch.AttachLocal(local))

	v, err := ch.GetKey(testContext(t), "local", FromAny)
	require.NoError(t, err)
	assert.Equal(t, []byte("l"), v)
	_, ok := b.mgr.Get(id)
	assert.False(t, ok, "本地命中时不创建下载器")

	v, err = ch.GetKey(testContext(t), "remote-only", FromAny)
	require.NoError(t, err)
	assert.Equal(t, []byte("r"), v)
	assert.Equal(t, 1, local.Calls("remote-only"))
}

func TestChannel_LocalOnly(t *testing.T) {
	net := memory.NewNetwork()
	a := newNode(t, net)
	id := testChannelID()
	publishing(t, a, id, map[string][]byte{"k": []byte("v")})

	failed := subscribe(t, a.bus, new(types.EvtKeyFailed))
	ch := a.reg.Create(id)

	v, err := ch.GetKey(testContext(t), "k", FromLocal)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	_, err = ch.GetKey(testContext(t), "missing", FromLocal)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	evt := next(t, failed).(types.EvtKeyFailed)
	assert.False(t, evt.Remote)
	assert.ErrorIs(t, evt.Err, ErrKeyNotFound)

	_, err = ch.GetKey(testContext(t), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestChannel_RemoteNotFound(t *testing.T) {
	net := memory.NewNetwork()
	a := newNode(t, net)
	b := newNode(t, net, a.tr.LocalPeer())
	id := testChannelID()
	publishing(t, a, id, nil)

	failed := subscribe(t, b.bus, new(types.EvtKeyFailed))
	_, err := b.reg.Create(id).GetKey(testContext(t), "nope", FromRemote)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	evt := next(t, failed).(types.EvtKeyFailed)
	assert.True(t, evt.Remote)
	assert.Equal(t, "nope", evt.Key)
}

func TestChannel_NoRemotePublisher(t *testing.T) {
	net := memory.NewNetwork()
	a := newNode(t, net)
	ch := a.reg.Create(testChannelID())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.False(t, ch.FoundRemotely(ctx))

	_, err := ch.GetKey(testContext(t), "k", FromRemote)
	assert.ErrorIs(t, err, retrieval.ErrNoPublishers)
}

func TestChannel_PublishRequirements(t *testing.T) {
	net := memory.NewNetwork()
	a := newNode(t, net)
	ch := a.reg.Create(testChannelID())
	assert.ErrorIs(t, ch.Publish(nil, nil), ErrNoLocalSource)

	reg, err := NewRegistry(Deps{Manager: a.mgr})
	require.NoError(t, err)
	bare := reg.Create(testChannelID())
	require.NoError(t, bare.AttachLocal(mocks.NewMockKeyProvider()))
	assert.ErrorIs(t, bare.Publish(nil, nil), ErrNoPublisher)

	_, err = NewRegistry(Deps{})
	assert.ErrorIs(t, err, ErrNilManager)
}

func TestChannel_AttachAfterPublishAndUnpublish(t *testing.T) {
	net := memory.NewNetwork()
	a := newNode(t, net)
	id := testChannelID()
	first := publishing(t, a, id, map[string][]byte{"k": []byte("old")})
	ch := a.reg.Create(id)
	assert.True(t, ch.Published())

	second := mocks.NewMockKeyProvider()
	second.Set("k", []byte("new"))
	require.NoError(t, ch.AttachLocal(second))
	assert.Same(t, second, ch.Local())
	assert.NotSame(t, first, ch.Local())

	codes, ok := a.pub.Channels(id.Proc)
	require.True(t, ok)
	assert.Equal(t, []string{id.Code}, codes)

	ch.Unpublish()
	assert.False(t, ch.Published())
	codes, _ = a.pub.Channels(id.Proc)
	assert.Empty(t, codes)
}

func TestRegistry_CreateAndRemove(t *testing.T) {
	net := memory.NewNetwork()
	a := newNode(t, net)
	id := testChannelID()
	publishing(t, a, id, nil)

	c1 := a.reg.Create(id)
	c2 := a.reg.Create(id)
	assert.Same(t, c1, c2)
	other := a.reg.Create(testChannelID())
	assert.NotSame(t, c1, other)
	assert.Len(t, a.reg.Channels(), 2)

	got, ok := a.reg.Get(id)
	require.True(t, ok)
	assert.Same(t, c1, got)

	require.NoError(t, a.reg.Remove(id))
	_, ok = a.reg.Get(id)
	assert.False(t, ok)
	codes, _ := a.pub.Channels(id.Proc)
	assert.Empty(t, codes)
	assert.NoError(t, a.reg.Remove(id))

	require.NoError(t, a.reg.Close())
	_, err := other.GetKeyAsync(testContext(t), "k")
	assert.ErrorIs(t, err, ErrRegistryClosed)
}
