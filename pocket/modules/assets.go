package modules

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/chipadevteam/pocketoption-go/pocket"
	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

// AssetsModule is a lightweight updater: it carries no command channel, only
// applying "updateAssets" broadcasts to the shared asset table (spec §4.4).
type AssetsModule struct {
	state   *pocket.State
	mailbox transport.Mailbox
	log     *zap.SugaredLogger
}

// NewAssetsModule builds an AssetsModule.
func NewAssetsModule(state *pocket.State, mailbox transport.Mailbox, log *zap.SugaredLogger) *AssetsModule {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &AssetsModule{state: state, mailbox: mailbox, log: log}
}

func (m *AssetsModule) Run() {
	for frame := range m.mailbox {
		m.handleFrame(frame)
		frame.Release()
	}
}

// OnReconnect is a no-op: the broker re-broadcasts the full asset table on
// every fresh connection without any resend request needed from this side.
func (m *AssetsModule) OnReconnect() {}

func (m *AssetsModule) handleFrame(f *transport.Frame) {
	data := f.Data
	if f.Kind == transport.FrameEvent {
		body, ok := eventPayload(f.Text)
		if !ok {
			return
		}
		data = []byte(body)
	}

	var list []pocket.Asset
	if err := json.Unmarshal(data, &list); err != nil {
		m.log.Warnw("failed to parse updateAssets payload", "error", err)
		return
	}
	m.state.SetAssets(pocket.NewAssets(list))
}
