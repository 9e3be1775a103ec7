package types

import "fmt"

// MessageType 消息类型
type MessageType uint8

// 消息类型常量
const (
	MessageUnknown MessageType = iota
	MessageDataInfoRequest
	MessageDataInfo
	MessageDataChunkRequest
	MessageDataChunk
	MessageQuery
	MessageQueryResult
)

// String 返回消息类型名称
func (t MessageType) String() string {
	switch t {
	case MessageDataInfoRequest:
		return "DataInfoRequest"
	case MessageDataInfo:
		return "DataInfo"
	case MessageDataChunkRequest:
		return "DataChunkRequest"
	case MessageDataChunk:
		return "DataChunk"
	case MessageQuery:
		return "Query"
	case MessageQueryResult:
		return "QueryResult"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Message 传输层消息信封
type Message struct {
	Type    MessageType
	Payload []byte
}

// NewMessage 创建消息
func NewMessage(t MessageType, payload []byte) *Message {
	return &Message{Type: t, Payload: payload}
}

// Size 返回负载字节数
func (m *Message) Size() int {
	if m == nil {
		return 0
	}
	return len(m.Payload)
}
