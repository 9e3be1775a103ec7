package channel

import (
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-chanfetch/pkg/interfaces"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// emitters 通道键事件发射器；总线为 nil 时全部为 nil，发射静默跳过
type emitters struct {
	requested interfaces.Emitter
	provided  interfaces.Emitter
	failed    interfaces.Emitter
}

func newEmitters(bus interfaces.EventBus) (*emitters, error) {
	e := &emitters{}
	if bus == nil {
		return e, nil
	}
	var err error
	if e.requested, err = bus.Emitter(new(types.EvtKeyRequested)); err != nil {
		return nil, err
	}
	if e.provided, err = bus.Emitter(new(types.EvtKeyProvided)); err != nil {
		_ = e.close()
		return nil, err
	}
	if e.failed, err = bus.Emitter(new(types.EvtKeyFailed)); err != nil {
		_ = e.close()
		return nil, err
	}
	return e, nil
}

func (e *emitters) emit(em interfaces.Emitter, evt interface{}) {
	if em == nil {
		return
	}
	if err := em.Emit(evt); err != nil {
		logger.Debug("发射事件失败", "error", err)
	}
}

func (e *emitters) keyRequested(id types.ChannelID, key string, remote bool) {
	e.emit(e.requested, types.EvtKeyRequested{Channel: id, Key: key, Remote: remote})
}

func (e *emitters) keyProvided(id types.ChannelID, key string, size int, remote bool, elapsed time.Duration) {
	e.emit(e.provided, types.EvtKeyProvided{Channel: id, Key: key, Size: size, Remote: remote, Duration: elapsed})
}

func (e *emitters) keyFailed(id types.ChannelID, key string, remote bool, err error) {
	e.emit(e.failed, types.EvtKeyFailed{Channel: id, Key: key, Remote: remote, Err: err})
}

func (e *emitters) close() error {
	var err error
	for _, em := range []interfaces.Emitter{e.requested, e.provided, e.failed} {
		if em != nil {
			err = multierr.Append(err, em.Close())
		}
	}
	return err
}
