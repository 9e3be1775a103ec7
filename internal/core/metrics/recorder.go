package metrics

import (
	"time"

	"github.com/dep2p/go-chanfetch/pkg/types"
)

// BatchKind 批次类型
type BatchKind string

// 批次类型常量
const (
	BatchSearch   BatchKind = "search"
	BatchDownload BatchKind = "download"
)

// Recorder 检索与发布组件使用的指标接口
type Recorder interface {
	// BatchSent 发出一个批次
	BatchSent(kind BatchKind, items int)

	// BatchTimedOut 批次超时被取消
	BatchTimedOut(kind BatchKind)

	// ObserveRTT 记录一次往返时间样本
	ObserveRTT(p types.PeerID, rtt time.Duration)

	// KeyFinished 键请求完成（成功或失败）
	KeyFinished(ch types.ChannelID, ok bool, elapsed time.Duration)

	// Downloaded 收到 n 字节通道数据
	Downloaded(p types.PeerID, ch types.ChannelID, n int)

	// Uploaded 发出 n 字节通道数据
	Uploaded(p types.PeerID, ch types.ChannelID, n int)

	// RequestServed 发布端应答一次请求
	RequestServed(kind string)

	// RequestRejected 发布端拒绝一次请求
	RequestRejected(reason string)
}

// Nop 不记录任何指标
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) BatchSent(BatchKind, int) {}
func (Nop) BatchTimedOut(BatchKind) {}
func (Nop) ObserveRTT(types.PeerID, time.Duration) {}
func (Nop) KeyFinished(types.ChannelID, bool, time.Duration) {}
func (Nop) Downloaded(types.PeerID, types.ChannelID, int) {}
func (Nop) Uploaded(types.PeerID, types.ChannelID, int) {}
func (Nop) RequestServed(string) {}
func (Nop) RequestRejected(string) {}
