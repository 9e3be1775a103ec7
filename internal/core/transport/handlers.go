package transport

import (
	"sync"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/lib/log"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

var logger = log.Logger("core/transport")

// Handlers 按消息类型分发的处理器注册表
//
// 同一类型可注册多个处理器；分发时对处理器列表做快照，
// 因此处理器内部可以安全地注册或注销。
type Handlers struct {
	mu     sync.RWMutex
	nextID uint64
	byType map[types.MessageType]map[uint64]interfaces.MessageHandler
}

// NewHandlers 创建注册表
func NewHandlers() *Handlers {
	return &Handlers{byType: make(map[types.MessageType]map[uint64]interfaces.MessageHandler)}
}

// Register 注册处理器，返回幂等的注销函数
func (h *Handlers) Register(t types.MessageType, fn interfaces.MessageHandler) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.byType[t] == nil {
		h.byType[t] = make(map[uint64]interfaces.MessageHandler)
	}
	h.byType[t][id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.byType[t], id)
			if len(h.byType[t]) == 0 {
				delete(h.byType, t)
			}
			h.mu.Unlock()
		})
	}
}

// Count 返回指定类型的处理器数
func (h *Handlers) Count(t types.MessageType) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byType[t])
}

// Dispatch 将消息交给该类型的全部处理器
func (h *Handlers) Dispatch(from types.PeerID, msg *types.Message) {
	h.mu.RLock()
	fns := make([]interfaces.MessageHandler, 0, len(h.byType[msg.Type]))
	for _, fn := range h.byType[msg.Type] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	if len(fns) == 0 {
		logger.Debug("消息无处理器，丢弃", "type", msg.Type, "from", from.ShortString())
		return
	}
	for _, fn := range fns {
		fn(from, msg)
	}
}
