package types

import "time"

// ============================================================================
//                              通道键事件
// ============================================================================

// EvtKeyRequested 通道键被请求
type EvtKeyRequested struct {
	Channel ChannelID
	Key     string
	Remote  bool
}

// EvtKeyProvided 通道键获取成功
type EvtKeyProvided struct {
	Channel  ChannelID
	Key      string
	Size     int
	Remote   bool
	Duration time.Duration
}

// EvtKeyFailed 通道键获取失败
type EvtKeyFailed struct {
	Channel ChannelID
	Key     string
	Remote  bool
	Err     error
}
