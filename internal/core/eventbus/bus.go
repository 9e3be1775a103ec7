// Package eventbus 实现类型安全的事件总线
//
// 通道键事件（EvtKeyRequested / EvtKeyProvided / EvtKeyFailed）经由总线
// 分发给订阅者；发射从不阻塞，订阅者缓冲区满时事件被丢弃并计数。
package eventbus

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/lib/log"
)

var logger = log.Logger("core/eventbus")

// 错误定义
var (
	// ErrClosed 总线或发射器已关闭
	ErrClosed = errors.New("eventbus: closed")
	// ErrInvalidEventType 无效的事件类型
	ErrInvalidEventType = errors.New("eventbus: invalid event type")
	// ErrNonPointerType 类型标记必须是指针
	ErrNonPointerType = errors.New("eventbus: event type must be a pointer, e.g. new(types.EvtKeyProvided)")
	// ErrTypeMismatch 事件与发射器类型不符
	ErrTypeMismatch = errors.New("eventbus: event type mismatch")
)

// defaultBuffer 订阅默认缓冲区大小
const defaultBuffer = 16

// Bus 事件总线
type Bus struct {
	mu     sync.RWMutex
	sinks  map[reflect.Type][]*Subscription
	closed bool

	dropped atomic.Int64
}

var _ interfaces.EventBus = (*Bus)(nil)

// NewBus 创建新的事件总线
func NewBus() *Bus {
	return &Bus{sinks: make(map[reflect.Type][]*Subscription)}
}

func elemType(eventType interface{}) (reflect.Type, error) {
	if eventType == nil {
		return nil, ErrInvalidEventType
	}
	typ := reflect.TypeOf(eventType)
	if typ.Kind() != reflect.Ptr {
		return nil, ErrNonPointerType
	}
	return typ.Elem(), nil
}

// Subscribe 订阅事件
//
//	sub, _ := bus.Subscribe(new(types.EvtKeyProvided))
//	for evt := range sub.Out() { ... evt.(types.EvtKeyProvided) ... }
func (b *Bus) Subscribe(eventType interface{}, opts ...interfaces.SubscriptionOpt) (interfaces.Subscription, error) {
	typ, err := elemType(eventType)
	if err != nil {
		return nil, err
	}
	settings := &interfaces.SubscriptionSettings{Buffer: defaultBuffer}
	for _, opt := range opts {
		opt(settings)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &Subscription{bus: b, typ: typ, out: make(chan interface{}, settings.Buffer)}
	b.sinks[typ] = append(b.sinks[typ], sub)
	return sub, nil
}

// Emitter 获取指定类型的发射器
func (b *Bus) Emitter(eventType interface{}) (interfaces.Emitter, error) {
	typ, err := elemType(eventType)
	if err != nil {
		return nil, err
	}
	return &Emitter{bus: b, typ: typ}, nil
}

// Dropped 返回因缓冲区满而丢弃的事件数
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close 关闭总线及所有订阅
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for typ, subs := range b.sinks {
		for _, s := range subs {
			s.closeLocked()
		}
		delete(b.sinks, typ)
	}
	return nil
}

func (b *Bus) emit(typ reflect.Type, event interface{}) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.sinks[typ] {
		select {
		case sub.out <- event:
		default:
			dropped := b.dropped.Add(1)
			// 每丢弃 100 个事件警告一次，避免日志泛滥
			if dropped%100 == 1 {
				logger.Warn("慢消费者检测", "dropped", dropped, "type", typ)
			}
		}
	}
	return nil
}

func (b *Bus) removeSub(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.sinks[sub.typ]
	for i, s := range subs {
		if s == sub {
			b.sinks[sub.typ] = append(subs[:i], subs[i+1:]...)
			sub.closeLocked()
			break
		}
	}
	if len(b.sinks[sub.typ]) == 0 {
		delete(b.sinks, sub.typ)
	}
}

// ============================================================================
//                              Subscription / Emitter
// ============================================================================

// Subscription 订阅
type Subscription struct {
	bus    *Bus
	typ    reflect.Type
	out    chan interface{}
	closed bool // 受 bus.mu 保护
}

// Out 返回事件通道，取消订阅后通道关闭
func (s *Subscription) Out() <-chan interface{} {
	return s.out
}

// Close 取消订阅，可重复调用
func (s *Subscription) Close() error {
	s.bus.removeSub(s)
	return nil
}

func (s *Subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

// Emitter 事件发射器
type Emitter struct {
	bus    *Bus
	typ    reflect.Type
	closed atomic.Bool
}

// Emit 发射事件；事件的值类型必须与发射器类型一致
func (e *Emitter) Emit(event interface{}) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if event == nil || reflect.TypeOf(event) != e.typ {
		return ErrTypeMismatch
	}
	return e.bus.emit(e.typ, event)
}

// Close 关闭发射器
func (e *Emitter) Close() error {
	e.closed.Store(true)
	return nil
}
