package modules

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chipadevteam/pocketoption-go/pocket"
	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

// balanceMessage is the successupdateBalance payload; other broker fields
// (currency, isDemo, ...) are ignored.
type balanceMessage struct {
	Balance decimal.Decimal `json:"balance"`
}

// BalanceModule is a lightweight updater applying "successupdateBalance"
// broadcasts to the shared balance field (spec §4.4). The broker sends it
// almost exclusively as a two-step "451-[...]" header with the data embedded
// directly rather than a placeholder.
type BalanceModule struct {
	state   *pocket.State
	mailbox transport.Mailbox
	log     *zap.SugaredLogger

	pendingBinary bool
}

// NewBalanceModule builds a BalanceModule.
func NewBalanceModule(state *pocket.State, mailbox transport.Mailbox, log *zap.SugaredLogger) *BalanceModule {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &BalanceModule{state: state, mailbox: mailbox, log: log}
}

func (m *BalanceModule) Run() {
	for frame := range m.mailbox {
		m.handleFrame(frame)
		frame.Release()
	}
}

// OnReconnect clears any half-observed two-step pairing; it cannot span a
// reconnect.
func (m *BalanceModule) OnReconnect() {
	m.pendingBinary = false
}

func (m *BalanceModule) handleFrame(f *transport.Frame) {
	switch f.Kind {
	case transport.FrameEvent:
		payload, ok := eventPayload(f.Text)
		if !ok {
			return
		}
		m.applyUpdate([]byte(payload))

	case transport.FrameBinaryEventHeader:
		payload, ok := twoStepHeaderPayload(f.Text)
		if !ok {
			m.pendingBinary = false
			return
		}
		if isPlaceholderPayload(payload) {
			m.pendingBinary = true
			return
		}
		m.applyUpdate([]byte(payload))
		m.pendingBinary = false

	case transport.FrameBinary:
		if !m.pendingBinary {
			return
		}
		m.applyUpdate(f.Data)
		m.pendingBinary = false
	}
}

func (m *BalanceModule) applyUpdate(data []byte) {
	var msg balanceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.log.Warnw("failed to parse balance payload", "error", err)
		return
	}
	balance, _ := msg.Balance.Float64()
	m.state.SetBalance(balance)
}
