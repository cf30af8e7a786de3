package modules

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/chipadevteam/pocketoption-go/pocket"
	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

// ServerTimeModule is a lightweight updater keeping the broker/local clock
// offset current (spec §4.10). The broker has no dedicated time-sync event;
// every price tick carries a server timestamp, so this module piggybacks on
// "updateStream" the same way the broker's own client does.
type ServerTimeModule struct {
	state   *pocket.State
	mailbox transport.Mailbox
	log     *zap.SugaredLogger
}

// NewServerTimeModule builds a ServerTimeModule.
func NewServerTimeModule(state *pocket.State, mailbox transport.Mailbox, log *zap.SugaredLogger) *ServerTimeModule {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ServerTimeModule{state: state, mailbox: mailbox, log: log}
}

func (m *ServerTimeModule) Run() {
	for frame := range m.mailbox {
		m.handleFrame(frame)
		frame.Release()
	}
}

// OnReconnect is a no-op: the next tick resynchronizes the offset.
func (m *ServerTimeModule) OnReconnect() {}

func (m *ServerTimeModule) handleFrame(f *transport.Frame) {
	if f.Kind != transport.FrameEvent {
		return
	}
	payload, ok := eventPayload(f.Text)
	if !ok {
		return
	}
	var tick pocket.StreamData
	if err := json.Unmarshal([]byte(payload), &tick); err != nil {
		return
	}
	m.state.UpdateServerTime(tick.Timestamp)
}
