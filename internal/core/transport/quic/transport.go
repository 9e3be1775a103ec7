// Package quic 实现基于 QUIC 的消息传输
//
// 每个对端一条 QUIC 连接；每个方向一条长期的单向流，消息以
// uvarint 长度前缀成帧。对端身份由 TLS 证书公钥派生。
package quic

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/dep2p/go-chanfetch/internal/core/identity"
	"github.com/dep2p/go-chanfetch/internal/core/transport"
	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/lib/log"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

var logger = log.Logger("transport/quic")

// Config QUIC 传输配置
type Config struct {
	ListenAddr     string
	DialTimeout    time.Duration
	MaxMessageSize int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ListenAddr:     "127.0.0.1:0",
		DialTimeout:    20 * time.Second,
		MaxMessageSize: 4 << 20,
	}
}

// Transport QUIC 传输
type Transport struct {
	id       *identity.Identity
	cfg      Config
	qconf    *quic.Config
	handlers *transport.Handlers

	udpConn  *net.UDPConn
	qt       *quic.Transport
	listener *quic.Listener
	local    types.PeerInfo

	mu     sync.Mutex
	conns  map[types.PeerID]*conn
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ interfaces.Transport = (*Transport)(nil)

// New 创建并开始监听
func New(id *identity.Identity, cfg Config) (*Transport, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("quic: resolve listen addr: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("quic: listen udp: %w", err)
	}

	serverTLS, err := newTLSConfig(id, types.EmptyPeerID)
	if err != nil {
		_ = udpConn.Close()
		return nil, err
	}

	t := &Transport{
		id:  id,
		cfg: cfg,
		qconf: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		handlers: transport.NewHandlers(),
		udpConn:  udpConn,
		qt:       &quic.Transport{Conn: udpConn},
		conns:    make(map[types.PeerID]*conn),
	}
	t.listener, err = t.qt.Listen(serverTLS, t.qconf)
	if err != nil {
		_ = udpConn.Close()
		return nil, fmt.Errorf("quic: listen: %w", err)
	}
	t.local = types.PeerInfo{ID: id.ID(), Addrs: []string{udpConn.LocalAddr().String()}}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	t.wg.Add(1)
	go t.acceptLoop()

	logger.Info("QUIC 传输已监听", "peer", id.ID().ShortString(), "addr", t.local.Addrs[0])
	return t, nil
}

// LocalPeer 实现 interfaces.Transport
func (t *Transport) LocalPeer() types.PeerInfo { return t.local }

// RegisterHandler 实现 interfaces.Transport
func (t *Transport) RegisterHandler(mt types.MessageType, h interfaces.MessageHandler) func() {
	return t.handlers.Register(mt, h)
}

// Connect 实现 interfaces.Transport
//
// 已有到该节点的连接（包括入站连接）时直接复用。
func (t *Transport) Connect(ctx context.Context, peer types.PeerInfo) (interfaces.Connection, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.ErrClosed
	}
	if c, ok := t.conns[peer.ID]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	if len(peer.Addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", transport.ErrNoAddress, peer.ID.ShortString())
	}
	clientTLS, err := newTLSConfig(t.id, peer.ID)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	var lastErr error
	for _, addr := range peer.Addrs {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		qc, err := t.qt.Dial(dialCtx, udpAddr, clientTLS, t.qconf)
		if err != nil {
			lastErr = err
			continue
		}
		return t.adopt(qc, peer), nil
	}
	return nil, fmt.Errorf("quic: dial %s: %w", peer.ID.ShortString(), lastErr)
}

// Close 关闭传输及所有连接
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[types.PeerID]*conn)
	t.mu.Unlock()

	t.cancel()
	for _, c := range conns {
		_ = c.qc.CloseWithError(0, "shutdown")
	}
	_ = t.listener.Close()
	err := t.qt.Close()
	t.wg.Wait()
	return err
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		qc, err := t.listener.Accept(t.ctx)
		if err != nil {
			if t.ctx.Err() == nil && !errors.Is(err, quic.ErrServerClosed) {
				logger.Warn("接受连接失败", "error", err)
			}
			return
		}
		id, err := peerIDFromState(qc.ConnectionState().TLS)
		if err != nil {
			logger.Warn("入站连接身份校验失败", "remote", qc.RemoteAddr(), "error", err)
			_ = qc.CloseWithError(1, "identity")
			continue
		}
		t.adopt(qc, types.PeerInfo{ID: id, Addrs: []string{qc.RemoteAddr().String()}})
	}
}

// adopt 登记连接并启动读循环；同一节点已有连接时保留旧连接用于发送
func (t *Transport) adopt(qc quic.Connection, peer types.PeerInfo) *conn {
	c := &conn{t: t, qc: qc, remote: peer}

	t.mu.Lock()
	existing, dup := t.conns[peer.ID]
	if !dup && !t.closed {
		t.conns[peer.ID] = c
	}
	t.mu.Unlock()

	t.wg.Add(1)
	go t.readLoop(c)

	if dup {
		return existing
	}
	logger.Debug("建立连接", "peer", peer.ID.ShortString())
	return c
}

func (t *Transport) readLoop(c *conn) {
	defer t.wg.Done()
	defer t.forget(c)
	for {
		rs, err := c.qc.AcceptUniStream(t.ctx)
		if err != nil {
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			r := bufio.NewReader(rs)
			for {
				msg, err := readFrame(r, t.cfg.MaxMessageSize)
				if err != nil {
					return
				}
				t.handlers.Dispatch(c.remote.ID, msg)
			}
		}()
	}
}

func (t *Transport) forget(c *conn) {
	t.mu.Lock()
	if t.conns[c.remote.ID] == c {
		delete(t.conns, c.remote.ID)
	}
	t.mu.Unlock()
}

// ============================================================================
//                              conn
// ============================================================================

type conn struct {
	t      *Transport
	qc     quic.Connection
	remote types.PeerInfo

	sendMu sync.Mutex
	stream quic.SendStream
}

var _ interfaces.Connection = (*conn)(nil)

func (c *conn) RemotePeer() types.PeerInfo { return c.remote }

func (c *conn) Send(ctx context.Context, msg *types.Message) error {
	if len(msg.Payload)+1 > c.t.cfg.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", transport.ErrMessageTooLarge, len(msg.Payload))
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.stream == nil {
		s, err := c.qc.OpenUniStreamSync(ctx)
		if err != nil {
			return fmt.Errorf("quic: open stream: %w", err)
		}
		c.stream = s
	}
	// 流控阻塞时写入受 ctx 截止时间约束
	deadline, _ := ctx.Deadline()
	if err := c.stream.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("quic: set write deadline: %w", err)
	}
	if err := writeFrame(c.stream, msg); err != nil {
		c.stream.CancelWrite(0)
		c.stream = nil
		return fmt.Errorf("quic: write frame: %w", err)
	}
	return nil
}

// Close 连接由传输层统一管理，此处仅关闭发送流
func (c *conn) Close() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.stream != nil {
		err := c.stream.Close()
		c.stream = nil
		return err
	}
	return nil
}
