package quic

import (
	"bufio"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-chanfetch/internal/core/transport"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// 帧格式：uvarint(len) | type(1B) | payload(len-1B)

// writeFrame 编码一帧
func writeFrame(w io.Writer, msg *types.Message) error {
	n := uint64(len(msg.Payload) + 1)
	buf := make([]byte, 0, varint.UvarintSize(n)+int(n))
	buf = append(buf, varint.ToUvarint(n)...)
	buf = append(buf, byte(msg.Type))
	buf = append(buf, msg.Payload...)
	_, err := w.Write(buf)
	return err
}

// readFrame 解码一帧；超过 maxSize 的帧视为协议错误
func readFrame(r *bufio.Reader, maxSize int) (*types.Message, error) {
	n, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("quic: empty frame")
	}
	if n > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", transport.ErrMessageTooLarge, n, maxSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &types.Message{Type: types.MessageType(buf[0]), Payload: buf[1:]}, nil
}
