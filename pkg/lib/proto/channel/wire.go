// Package channel 定义数据通道检索协议的线上消息
//
// 消息采用 protobuf 线格式（字段号见 channel.proto），
// 由 protowire 直接编解码；未知字段在解码时跳过，便于协议演进。
package channel

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidMessage 消息格式无效
var ErrInvalidMessage = errors.New("proto: invalid message")

// ============================================================================
//                              编码
// ============================================================================

type encoder struct {
	b []byte
}

func (e *encoder) varint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

func (e *encoder) int64(num protowire.Number, v int64) {
	e.varint(num, protowire.EncodeZigZag(v))
}

func (e *encoder) bool(num protowire.Number, v bool) {
	if v {
		e.varint(num, 1)
	}
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

func (e *encoder) string(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, v)
}

// repeatedString 重复字段即使为空字符串也逐项写出
func (e *encoder) repeatedString(num protowire.Number, vs []string) {
	for _, v := range vs {
		e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
		e.b = protowire.AppendString(e.b, v)
	}
}

// message 子消息总是写出（空子消息也表示"存在"）
func (e *encoder) message(num protowire.Number, sub []byte) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, sub)
}

func (e *encoder) uuid(num protowire.Number, id uuid.UUID) {
	if id == uuid.Nil {
		return
	}
	e.bytes(num, id[:])
}

// ============================================================================
//                              解码
// ============================================================================

// field 单个已解码字段
type field struct {
	num protowire.Number
	typ protowire.Type
	x   uint64 // varint 值
	v   []byte // length-delimited 值
}

// walk 依次回调每个字段；未知的 wire 类型会被跳过
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.x, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrInvalidMessage, num, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) int64() int64 { return protowire.DecodeZigZag(f.x) }

func (f field) bool() bool { return f.x != 0 }

func (f field) string() string { return string(f.v) }

// bytesCopy 复制字节，避免引用底层缓冲
func (f field) bytesCopy() []byte {
	if len(f.v) == 0 {
		return nil
	}
	out := make([]byte, len(f.v))
	copy(out, f.v)
	return out
}

func (f field) uuid() (uuid.UUID, error) {
	id, err := uuid.FromBytes(f.v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: field %d: %v", ErrInvalidMessage, f.num, err)
	}
	return id, nil
}
