package modules

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chipadevteam/pocketoption-go/pocket"
	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

// Default trade amount bounds (spec §4.5).
var (
	defaultMinTradeAmount = decimal.NewFromInt(1)
	defaultMaxTradeAmount = decimal.NewFromInt(20000)
)

// duplicateTradeWindow is how recently an equal-fingerprint trade must have
// succeeded for a new request to be rejected as a duplicate (spec §4.5).
const duplicateTradeWindow = 2 * time.Second

// tradeRequest is sent from a TradesHandle call into the module's Run loop.
type tradeRequest struct {
	asset   string
	action  pocket.Action
	amount  decimal.Decimal
	seconds uint32
	reqID   uuid.UUID
	respond chan tradeResult
}

type tradeResult struct {
	deal pocket.Deal
	err  error
}

// pendingOrderTracker mirrors a single in-flight openOrder awaiting either a
// successopenOrder (matched by requestId) or a failopenOrder (matched by
// FIFO (asset, amount) queue, since the broker never echoes a request id on
// failure).
type pendingOrderTracker struct {
	asset   string
	amount  decimal.Decimal
	respond chan tradeResult
}

type failureKey struct {
	asset  string
	amount string
}

func newFailureKey(asset string, amount decimal.Decimal) failureKey {
	return failureKey{asset: asset, amount: amount.StringFixed(2)}
}

// serverTradeResponse decodes the broker's openOrder acknowledgement, which
// is either a Deal (success) or a FailOpenOrder (rejection) sharing no
// common discriminator field, so both are attempted.
type serverTradeResponse struct {
	deal pocket.Deal
	fail pocket.FailOpenOrder
	isOK bool
}

func decodeTradeResponse(data []byte) (serverTradeResponse, bool) {
	var deal pocket.Deal
	if err := json.Unmarshal(data, &deal); err == nil && deal.ID != uuid.Nil {
		return serverTradeResponse{deal: deal, isOK: true}, true
	}
	var fail pocket.FailOpenOrder
	if err := json.Unmarshal(data, &fail); err == nil && fail.Asset != "" {
		return serverTradeResponse{fail: fail, isOK: false}, true
	}
	return serverTradeResponse{}, false
}

// TradesHandle is the facade-facing entry point for placing trades (spec
// §4.5, §4.12 trade/buy/sell).
type TradesHandle struct {
	state    *pocket.State
	requests chan tradeRequest
	minAmount decimal.Decimal
	maxAmount decimal.Decimal
}

// Trade validates and places a new order, blocking until the broker responds
// with a success or failure, or ctx is cancelled.
func (h *TradesHandle) Trade(ctx context.Context, asset string, action pocket.Action, amount decimal.Decimal, seconds uint32) (pocket.Deal, error) {
	var zero pocket.Deal

	if !amount.IsPositive() {
		return zero, pocket.NewPocketError(pocket.PocketInvalidAsset, "amount must be positive", nil)
	}
	if amount.LessThan(h.minAmount) || amount.GreaterThan(h.maxAmount) {
		return zero, pocket.NewPocketError(pocket.PocketInvalidAsset, "amount outside allowed range", nil)
	}
	assets, ok := h.state.GetAssets()
	if !ok {
		return zero, pocket.NewPocketError(pocket.PocketInvalidAsset, "assets have not loaded yet", nil)
	}
	if err := assets.Validate(asset, seconds); err != nil {
		return zero, err
	}

	amountCents := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	if _, dup := h.state.Trade.CheckDuplicateTrade(asset, action, seconds, amountCents, duplicateTradeWindow); dup {
		return zero, pocket.NewPocketError(pocket.PocketDuplicateTrade, "duplicate trade request within window", nil)
	}

	reqID := uuid.New()
	respond := make(chan tradeResult, 1)
	req := tradeRequest{asset: asset, action: action, amount: amount, seconds: seconds, reqID: reqID, respond: respond}

	select {
	case h.requests <- req:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case res := <-respond:
		if res.err == nil {
			h.state.Trade.RecordTrade(asset, action, seconds, amountCents, reqID)
		}
		return res.deal, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Buy places a call trade.
func (h *TradesHandle) Buy(ctx context.Context, asset string, amount decimal.Decimal, seconds uint32) (pocket.Deal, error) {
	return h.Trade(ctx, asset, pocket.ActionCall, amount, seconds)
}

// Sell places a put trade.
func (h *TradesHandle) Sell(ctx context.Context, asset string, amount decimal.Decimal, seconds uint32) (pocket.Deal, error) {
	return h.Trade(ctx, asset, pocket.ActionPut, amount, seconds)
}

// TradesModule owns the single in-flight request map and the FIFO failure
// matching queue (spec §4.5); it is the only writer of both.
type TradesModule struct {
	state   *pocket.State
	mailbox transport.Mailbox
	requests chan tradeRequest
	send    func([]byte) error
	log     *zap.SugaredLogger

	pending      map[uuid.UUID]pendingOrderTracker
	failureQueue map[failureKey][]uuid.UUID
}

// NewTradesModule builds a TradesModule and its paired handle.
func NewTradesModule(state *pocket.State, mailbox transport.Mailbox, send func([]byte) error, log *zap.SugaredLogger) (*TradesModule, *TradesHandle) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	requests := make(chan tradeRequest, mailboxRequestCapacity)
	m := &TradesModule{
		state:        state,
		mailbox:      mailbox,
		requests:     requests,
		send:         send,
		log:          log,
		pending:      make(map[uuid.UUID]pendingOrderTracker),
		failureQueue: make(map[failureKey][]uuid.UUID),
	}
	h := &TradesHandle{
		state:     state,
		requests:  requests,
		minAmount: defaultMinTradeAmount,
		maxAmount: defaultMaxTradeAmount,
	}
	return m, h
}

// Run consumes both outgoing trade requests and inbound broker responses
// until the mailbox closes.
func (m *TradesModule) Run() {
	for {
		select {
		case req := <-m.requests:
			m.openOrder(req)
		case frame, ok := <-m.mailbox:
			if !ok {
				return
			}
			m.handleFrame(frame)
			frame.Release()
		}
	}
}

// OnReconnect is a no-op: in-flight orders do not survive a reconnect (the
// broker never re-delivers a response for a connection it dropped), so there
// is nothing to resend; callers observe a timeout instead.
func (m *TradesModule) OnReconnect() {}

func (m *TradesModule) openOrder(req tradeRequest) {
	tracker := pendingOrderTracker{asset: req.asset, amount: req.amount, respond: req.respond}
	m.pending[req.reqID] = tracker

	key := newFailureKey(req.asset, req.amount)
	m.failureQueue[key] = append(m.failureQueue[key], req.reqID)

	order := pocket.NewOpenOrder(req.asset, req.action, req.amount, req.seconds, demoFlag(m.state), req.reqID)
	frame, err := order.Frame()
	if err != nil {
		m.failOpenOrderLocal(req.reqID, key, err)
		return
	}
	if err := m.send([]byte(frame)); err != nil {
		m.log.Warnw("failed to send openOrder", "error", err, "request_id", req.reqID)
		m.failOpenOrderLocal(req.reqID, key, err)
	}
}

func (m *TradesModule) failOpenOrderLocal(reqID uuid.UUID, key failureKey, cause error) {
	if tracker, ok := m.pending[reqID]; ok {
		delete(m.pending, reqID)
		tracker.respond <- tradeResult{err: pocket.NewCoreError(pocket.CoreChannelSend, "failed to transmit trade request", cause)}
	}
	m.removeFromQueue(key, reqID)
}

func (m *TradesModule) removeFromQueue(key failureKey, reqID uuid.UUID) {
	queue := m.failureQueue[key]
	for i, id := range queue {
		if id == reqID {
			m.failureQueue[key] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

func (m *TradesModule) handleFrame(f *transport.Frame) {
	data := f.Data
	if f.Kind == transport.FrameEvent {
		body, ok := eventPayload(f.Text)
		if !ok {
			return
		}
		data = []byte(body)
	}

	resp, ok := decodeTradeResponse(data)
	if !ok {
		m.log.Warnw("failed to parse trade server response")
		return
	}

	if resp.isOK {
		m.state.Trade.AddOpenedDeal(resp.deal)
		reqID := uuid.Nil
		if resp.deal.RequestID != nil {
			reqID = *resp.deal.RequestID
		}
		tracker, ok := m.pending[reqID]
		if !ok {
			m.log.Warnw("received success for unknown request id", "request_id", reqID)
			return
		}
		delete(m.pending, reqID)
		m.removeFromQueue(newFailureKey(tracker.asset, tracker.amount), reqID)
		tracker.respond <- tradeResult{deal: resp.deal}
		return
	}

	key := newFailureKey(resp.fail.Asset, resp.fail.Amount)
	queue := m.failureQueue[key]
	if len(queue) == 0 {
		m.log.Warnw("received failure for unknown order", "asset", resp.fail.Asset, "amount", resp.fail.Amount)
		return
	}
	reqID := queue[0]
	m.failureQueue[key] = queue[1:]
	tracker, ok := m.pending[reqID]
	if !ok {
		return
	}
	delete(m.pending, reqID)
	tracker.respond <- tradeResult{err: pocket.NewFailOpenOrderError(resp.fail.Asset, resp.fail.Amount.String(), resp.fail.Error)}
}

func demoFlag(state *pocket.State) uint32 {
	if state.IsDemo() {
		return 1
	}
	return 0
}
