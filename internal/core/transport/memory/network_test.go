package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanfetch/internal/core/transport"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

func TestNetwork_Deliver(t *testing.T) {
	n := NewNetwork()
	a, b := n.NewPeer(), n.NewPeer()

	got := make(chan types.PeerID, 1)
	b.RegisterHandler(types.MessageQuery, func(from types.PeerID, msg *types.Message) {
		assert.Equal(t, []byte("hi"), msg.Payload)
		got <- from
	})

	c, err := a.Connect(context.Background(), b.LocalPeer())
	require.NoError(t, err)
	payload := []byte("hi")
	require.NoError(t, c.Send(context.Background(), types.NewMessage(types.MessageQuery, payload)))
	payload[0] = 'x'

	select {
	case from := <-got:
		assert.Equal(t, a.LocalPeer().ID, from)
	case <-time.After(time.Second):
		t.Fatal("消息未送达")
	}
}

func TestNetwork_BlockAndDrop(t *testing.T) {
	n := NewNetwork()
	a, b := n.NewPeer(), n.NewPeer()

	var count atomic.Int32
	b.RegisterHandler(types.MessageDataChunk, func(types.PeerID, *types.Message) { count.Add(1) })
	c, _ := a.Connect(context.Background(), b.LocalPeer())

	n.Block(a.LocalPeer().ID, b.LocalPeer().ID)
	require.NoError(t, c.Send(context.Background(), types.NewMessage(types.MessageDataChunk, nil)))
	n.Unblock(a.LocalPeer().ID, b.LocalPeer().ID)

	n.SetDrop(func(_, _ types.PeerID, msg *types.Message) bool { return len(msg.Payload) == 0 })
	require.NoError(t, c.Send(context.Background(), types.NewMessage(types.MessageDataChunk, nil)))
	require.NoError(t, c.Send(context.Background(), types.NewMessage(types.MessageDataChunk, []byte{1})))
	n.Quiesce()

	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, int64(3), n.Sent())
	assert.Equal(t, int64(1), n.Delivered())
}

func TestNetwork_ConnectUnknownAndClosed(t *testing.T) {
	n := NewNetwork()
	a := n.NewPeer()

	_, err := a.Connect(context.Background(), types.PeerInfo{ID: "nobody"})
	assert.ErrorIs(t, err, transport.ErrPeerNotFound)

	b := n.NewPeer()
	c, err := a.Connect(context.Background(), b.LocalPeer())
	require.NoError(t, err)
	require.NoError(t, b.Close())

	// 对端离开后发送不报错，消息静默丢失
	assert.NoError(t, c.Send(context.Background(), types.NewMessage(types.MessageQuery, nil)))
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send(context.Background(), types.NewMessage(types.MessageQuery, nil)), transport.ErrClosed)
}
