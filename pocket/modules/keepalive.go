package modules

import (
	"time"

	"go.uber.org/zap"

	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

// keepAliveInterval is the broker's required heartbeat cadence (spec §4.4).
const keepAliveInterval = 20 * time.Second

// KeepAliveModule emits the protocol-level "ps" heartbeat on a fixed
// interval, independent of inbound traffic. The engine-level Socket.IO
// ping/pong (text "2"/"3") is answered by the session handshake and the
// Runner's reader loop, not here (spec §4.4).
//
// It registers under transport.NewEventRule() with no event names, a rule
// that structurally never matches any frame (mirrors the original's
// constant-false predicate): the mailbox exists purely so Router.Close gives
// this module the same shutdown signal every other module gets.
type KeepAliveModule struct {
	mailbox transport.Mailbox
	send    func([]byte) error
	log     *zap.SugaredLogger
}

// NewKeepAliveModule builds a KeepAliveModule.
func NewKeepAliveModule(mailbox transport.Mailbox, send func([]byte) error, log *zap.SugaredLogger) *KeepAliveModule {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &KeepAliveModule{mailbox: mailbox, send: send, log: log}
}

// Run ticks every keepAliveInterval, sending the heartbeat frame each time,
// until the mailbox is closed by the Runner's shutdown path.
func (m *KeepAliveModule) Run() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case _, ok := <-m.mailbox:
			if !ok {
				return
			}
		case <-ticker.C:
			if err := m.send(transport.EncodeEvent("ps", "")); err != nil {
				m.log.Warnw("failed to send keep-alive heartbeat", "error", err)
			}
		}
	}
}

// OnReconnect is a no-op: the ticker keeps running across reconnects within
// the same module instance, so there is nothing to re-arm.
func (m *KeepAliveModule) OnReconnect() {}
