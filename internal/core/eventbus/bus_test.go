package eventbus

import (
	"errors"
	"testing"
	"time"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func TestBus_SubscribeEmit(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, err := bus.Subscribe(new(types.EvtKeyProvided))
	require.NoError(t, err)
	other, err := bus.Subscribe(new(types.EvtKeyFailed))
	require.NoError(t, err)

	em, err := bus.Emitter(new(types.EvtKeyProvided))
	require.NoError(t, err)
	require.NoError(t, em.Emit(types.EvtKeyProvided{Key: "k", Size: 3}))

	select {
	case evt := <-sub.Out():
		assert.Equal(t, "k", evt.(types.EvtKeyProvided).Key)
	case <-time.After(time.Second):
		t.Fatal("未收到事件")
	}
	assert.Len(t, other.Out(), 0, "其他类型的订阅者不应收到事件")
}

func TestBus_TypeChecks(t *testing.T) {
	bus := NewBus()

	_, err := bus.Subscribe(types.EvtKeyProvided{})
	assert.ErrorIs(t, err, ErrNonPointerType)
	_, err = bus.Subscribe(nil)
	assert.ErrorIs(t, err, ErrInvalidEventType)

	em, err := bus.Emitter(new(types.EvtKeyProvided))
	require.NoError(t, err)
	assert.ErrorIs(t, em.Emit(types.EvtKeyFailed{}), ErrTypeMismatch)
	assert.ErrorIs(t, em.Emit(&types.EvtKeyProvided{}), ErrTypeMismatch)

	require.NoError(t, em.Close())
	assert.ErrorIs(t, em.Emit(types.EvtKeyProvided{}), ErrClosed)
}

func TestBus_SlowConsumerDrops(t *testing.T) {
	bus := NewBus()
	sub, err := bus.Subscribe(new(types.EvtKeyRequested), interfaces.BufSize(1))
	require.NoError(t, err)
	em, _ := bus.Emitter(new(types.EvtKeyRequested))

	for i := 0; i < 5; i++ {
		require.NoError(t, em.Emit(types.EvtKeyRequested{Key: "k"}))
	}
	assert.Len(t, sub.Out(), 1)
	assert.Equal(t, int64(4), bus.Dropped())
}

func TestBus_CloseSubscription(t *testing.T) {
	bus := NewBus()
	sub, _ := bus.Subscribe(new(types.EvtKeyFailed))
	em, _ := bus.Emitter(new(types.EvtKeyFailed))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	_, ok := <-sub.Out()
	assert.False(t, ok, "取消订阅后通道应关闭")

	assert.NoError(t, em.Emit(types.EvtKeyFailed{Err: errors.New("x")}))

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, em.Emit(types.EvtKeyFailed{}), ErrClosed)
	_, err := bus.Subscribe(new(types.EvtKeyFailed))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestModule_Lifecycle(t *testing.T) {
	var bus interfaces.EventBus
	app := fxtest.New(t, Module, fx.Populate(&bus))
	app.RequireStart()
	require.NotNil(t, bus)

	sub, err := bus.Subscribe(new(types.EvtKeyProvided))
	require.NoError(t, err)

	app.RequireStop()
	_, ok := <-sub.Out()
	assert.False(t, ok, "总线停止后订阅应关闭")
}
