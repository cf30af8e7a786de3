package modules

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chipadevteam/pocketoption-go/pocket"
	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

// pendingOrderTimeout bounds how long OpenPendingOrder waits for the broker's
// ack (spec §4.10); the broker never echoes a correlation id for pending
// orders, so only one request may be in flight at a time.
const pendingOrderTimeout = 30 * time.Second

type pendingOrderRequest struct {
	order   pocket.OpenPendingOrder
	respond chan pendingOrderResult
}

type pendingOrderResult struct {
	order pocket.PendingOrder
	err   error
}

// serverPendingOrderResponse decodes the broker's openPendingOrder
// acknowledgement, which is either a PendingOrder (success) or a
// FailOpenOrder (rejection) sharing no common discriminator field.
type serverPendingOrderResponse struct {
	order pocket.PendingOrder
	fail  pocket.FailOpenOrder
	isOK  bool
}

func decodePendingOrderResponse(data []byte) (serverPendingOrderResponse, bool) {
	var order pocket.PendingOrder
	if err := json.Unmarshal(data, &order); err == nil && order.Ticket != uuid.Nil {
		return serverPendingOrderResponse{order: order, isOK: true}, true
	}
	var fail pocket.FailOpenOrder
	if err := json.Unmarshal(data, &fail); err == nil && fail.Asset != "" {
		return serverPendingOrderResponse{fail: fail, isOK: false}, true
	}
	return serverPendingOrderResponse{}, false
}

// PendingOrdersHandle is the facade-facing entry point for placing pending
// (not-yet-triggered) orders (spec §4.10, §4.12 open_pending_order).
type PendingOrdersHandle struct {
	requests chan pendingOrderRequest
	callLock sync.Mutex
}

// OpenPendingOrder places a pending order and blocks for the broker's ack.
// Concurrent callers are serialized: the broker's protocol has no
// per-request correlation id, so only one request may be outstanding.
func (h *PendingOrdersHandle) OpenPendingOrder(ctx context.Context, openType uint32, amount decimal.Decimal, asset string, openTime uint32, openPrice decimal.Decimal, timeframe, minPayout, command uint32) (pocket.PendingOrder, error) {
	h.callLock.Lock()
	defer h.callLock.Unlock()

	var zero pocket.PendingOrder
	order := pocket.OpenPendingOrder{
		OpenType:  openType,
		Amount:    amount,
		Asset:     asset,
		OpenTime:  openTime,
		OpenPrice: openPrice,
		Timeframe: timeframe,
		MinPayout: minPayout,
		Command:   command,
	}

	ctx, cancel := context.WithTimeout(ctx, pendingOrderTimeout)
	defer cancel()

	respond := make(chan pendingOrderResult, 1)
	select {
	case h.requests <- pendingOrderRequest{order: order, respond: respond}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case res := <-respond:
		return res.order, res.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return zero, pocket.NewTimeoutError("open_pending_order", "asset: "+asset, pendingOrderTimeout)
		}
		return zero, ctx.Err()
	}
}

// PendingOrdersModule tracks the single in-flight pending-order request and
// applies the broker's success/fail acknowledgement to it.
//
// At most one OpenPendingOrder request is expected in flight at a time
// (enforced by PendingOrdersHandle.callLock); a second request arriving
// before the first resolves overwrites the tracked waiter and is logged.
type PendingOrdersModule struct {
	state    *pocket.State
	mailbox  transport.Mailbox
	requests chan pendingOrderRequest
	send     func([]byte) error
	log      *zap.SugaredLogger

	pending *pendingOrderRequest
}

// NewPendingOrdersModule builds a PendingOrdersModule and its paired handle.
func NewPendingOrdersModule(state *pocket.State, mailbox transport.Mailbox, send func([]byte) error, log *zap.SugaredLogger) (*PendingOrdersModule, *PendingOrdersHandle) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	requests := make(chan pendingOrderRequest, mailboxRequestCapacity)
	m := &PendingOrdersModule{
		state:    state,
		mailbox:  mailbox,
		requests: requests,
		send:     send,
		log:      log,
	}
	return m, &PendingOrdersHandle{requests: requests}
}

func (m *PendingOrdersModule) Run() {
	for {
		select {
		case req := <-m.requests:
			m.openPendingOrder(req)
		case frame, ok := <-m.mailbox:
			if !ok {
				return
			}
			m.handleFrame(frame)
			frame.Release()
		}
	}
}

// OnReconnect drops any in-flight request: its ack can never arrive over the
// connection that was replaced. The caller observes a timeout instead.
func (m *PendingOrdersModule) OnReconnect() {
	m.pending = nil
}

func (m *PendingOrdersModule) openPendingOrder(req pendingOrderRequest) {
	if m.pending != nil {
		m.log.Warnw("overwriting a pending request; concurrent open_pending_order calls are not supported")
	}
	m.pending = &req

	frame, err := req.order.Frame()
	if err != nil {
		m.resolvePending(pendingOrderResult{err: pocket.NewCoreError(pocket.CoreChannelSend, "failed to encode pending order", err)})
		return
	}
	if err := m.send([]byte(frame)); err != nil {
		m.log.Warnw("failed to send openPendingOrder", "error", err)
		m.resolvePending(pendingOrderResult{err: pocket.NewCoreError(pocket.CoreChannelSend, "failed to transmit pending order request", err)})
	}
}

func (m *PendingOrdersModule) resolvePending(res pendingOrderResult) {
	if m.pending == nil {
		return
	}
	m.pending.respond <- res
	m.pending = nil
}

func (m *PendingOrdersModule) handleFrame(f *transport.Frame) {
	data := f.Data
	if f.Kind == transport.FrameEvent {
		body, ok := eventPayload(f.Text)
		if !ok {
			return
		}
		data = []byte(body)
	}

	resp, ok := decodePendingOrderResponse(data)
	if !ok {
		return
	}

	if resp.isOK {
		m.state.Trade.AddPendingDeal(resp.order)
		if m.pending == nil {
			m.log.Warnw("received successopenPendingOrder but no request was pending; dropping response to avoid ambiguity")
			return
		}
		m.resolvePending(pendingOrderResult{order: resp.order})
		return
	}

	if m.pending == nil {
		return
	}
	m.resolvePending(pendingOrderResult{err: pocket.NewFailOpenOrderError(resp.fail.Asset, resp.fail.Amount.String(), resp.fail.Error)})
}
