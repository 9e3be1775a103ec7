package quic

import (
	"bufio"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-chanfetch/internal/core/identity"
	"github.com/dep2p/go-chanfetch/internal/core/transport"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	tr, err := New(id, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, types.NewMessage(types.MessageDataChunk, []byte("abc"))))
	require.NoError(t, writeFrame(&buf, types.NewMessage(types.MessageQuery, nil)))

	r := bufio.NewReader(&buf)
	m1, err := readFrame(r, 1024)
	require.NoError(t, err)
	assert.Equal(t, types.MessageDataChunk, m1.Type)
	assert.Equal(t, []byte("abc"), m1.Payload)

	m2, err := readFrame(r, 1024)
	require.NoError(t, err)
	assert.Equal(t, types.MessageQuery, m2.Type)
	assert.Empty(t, m2.Payload)
}

func TestFrame_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, types.NewMessage(types.MessageDataChunk, make([]byte, 100))))

	_, err := readFrame(bufio.NewReader(&buf), 50)
	assert.ErrorIs(t, err, transport.ErrMessageTooLarge)
}

func TestTransport_SendAndReply(t *testing.T) {
	a := newTestTransport(t)
	b := newTestTransport(t)

	// b 收到请求后通过复用的入站连接回复
	b.RegisterHandler(types.MessageDataInfoRequest, func(from types.PeerID, msg *types.Message) {
		c, err := b.Connect(context.Background(), types.PeerInfo{ID: from})
		if !assert.NoError(t, err) {
			return
		}
		assert.NoError(t, c.Send(context.Background(), types.NewMessage(types.MessageDataInfo, msg.Payload)))
	})

	replies := make(chan types.PeerID, 1)
	a.RegisterHandler(types.MessageDataInfo, func(from types.PeerID, msg *types.Message) {
		assert.Equal(t, []byte("ping"), msg.Payload)
		replies <- from
	})

	c, err := a.Connect(context.Background(), b.LocalPeer())
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), types.NewMessage(types.MessageDataInfoRequest, []byte("ping"))))

	select {
	case from := <-replies:
		assert.Equal(t, b.LocalPeer().ID, from)
	case <-time.After(5 * time.Second):
		t.Fatal("未收到应答")
	}
}

func TestTransport_PeerIDMismatch(t *testing.T) {
	a := newTestTransport(t)
	b := newTestTransport(t)

	wrong := types.PeerInfo{ID: a.LocalPeer().ID, Addrs: b.LocalPeer().Addrs}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.Connect(ctx, wrong)
	assert.Error(t, err)
}

func TestTransport_NoAddress(t *testing.T) {
	a := newTestTransport(t)
	_, err := a.Connect(context.Background(), types.PeerInfo{ID: "nobody"})
	assert.ErrorIs(t, err, transport.ErrNoAddress)

	require.NoError(t, a.Close())
	_, err = a.Connect(context.Background(), types.PeerInfo{ID: "nobody"})
	assert.ErrorIs(t, err, transport.ErrClosed)
}

// 已打开的发送流同样遵守 ctx 的截止时间；失败后下一次发送换新流
func TestTransport_SendHonorsDeadline(t *testing.T) {
	a := newTestTransport(t)
	b := newTestTransport(t)

	got := make(chan string, 4)
	b.RegisterHandler(types.MessageDataChunk, func(_ types.PeerID, msg *types.Message) {
		got <- string(msg.Payload)
	})
	receive := func() string {
		select {
		case p := <-got:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("未收到消息")
			return ""
		}
	}

	c, err := a.Connect(context.Background(), b.LocalPeer())
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), types.NewMessage(types.MessageDataChunk, []byte("first"))))
	assert.Equal(t, "first", receive())

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	assert.Error(t, c.Send(expired, types.NewMessage(types.MessageDataChunk, []byte("late"))))

	require.NoError(t, c.Send(context.Background(), types.NewMessage(types.MessageDataChunk, []byte("after"))))
	assert.Equal(t, "after", receive())
}
