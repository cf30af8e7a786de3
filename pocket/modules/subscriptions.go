package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chipadevteam/pocketoption-go/pocket"
	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

// maxSubscriptions is the concurrent-stream cap (spec §4.7).
const maxSubscriptions = 4

// reconnectResubscribeDelay gives the broker time to settle the fresh
// connection before replaying subscribe frames (spec §4.7's OnReconnect).
const reconnectResubscribeDelay = 2 * time.Second

var subscriptionEvents = []string{"updateStream", "updateHistoryNewFast", "updateHistoryNew"}

type subscribeRequest struct {
	asset   string
	kind    pocket.SubscriptionType
	respond chan subscribeResult
}

type subscribeResult struct {
	stream *SubscriptionStream
	err    error
}

type unsubscribeRequest struct {
	asset   string
	respond chan error
}

type historyRequest struct {
	asset   string
	period  uint32
	respond chan historyResult
}

type historyResult struct {
	candles []pocket.Candle
	err     error
}

// historyResponsePayload is the broker's updateHistoryNewFast/updateHistoryNew
// shape: either finished candles or raw ticks to compile client-side.
type historyResponsePayload struct {
	Asset   string              `json:"asset"`
	Period  uint32              `json:"period"`
	Candles []pocket.BaseCandle `json:"candles,omitempty"`
	History []historyTickTuple  `json:"history,omitempty"`
}

// historyTickTuple decodes the broker's positional [timestamp, price] tick.
type historyTickTuple pocket.HistoryTick

func (t *historyTickTuple) UnmarshalJSON(data []byte) error {
	var raw [2]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Timestamp = raw[0]
	t.Price = raw[1]
	return nil
}

// SubscriptionStream is a live, aggregated candle feed for one asset (spec
// §4.7, §4.12 subscribe).
type SubscriptionStream struct {
	asset     string
	events    chan pocket.SubscriptionEvent
	handle    *SubscriptionsHandle
	closeOnce sync.Once
}

// Asset returns the subscribed symbol.
func (s *SubscriptionStream) Asset() string { return s.asset }

// Receive blocks for the next finalized candle, returning an error if the
// stream's channel was closed (by Unsubscribe), a termination event arrives,
// or ctx is cancelled. A subscription dropped by State.ClearTemporalData
// receives no further events and no error.
func (s *SubscriptionStream) Receive(ctx context.Context) (pocket.Candle, error) {
	var zero pocket.Candle
	select {
	case ev, ok := <-s.events:
		if !ok {
			return zero, pocket.NewPocketError(pocket.PocketGeneral, "subscription stream closed", nil)
		}
		if ev.Terminated {
			return zero, pocket.NewPocketError(pocket.PocketGeneral, "subscription terminated: "+ev.Reason, nil)
		}
		return *ev.Candle, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close unsubscribes in the background, mirroring the original's
// fire-and-forget cleanup on drop: the caller has already walked away, so
// failures are logged rather than returned. Safe to call more than once.
func (s *SubscriptionStream) Close() {
	s.closeOnce.Do(func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.handle.Unsubscribe(ctx, s.asset); err != nil {
				s.handle.log.Warnw("failed to unsubscribe on stream close", "asset", s.asset, "error", err)
			}
		}()
	})
}

// SubscriptionsHandle is the facade-facing entry point for live subscriptions
// and historical candles (spec §4.7-§4.9, §4.12).
type SubscriptionsHandle struct {
	state        *pocket.State
	subscribes   chan subscribeRequest
	unsubscribes chan unsubscribeRequest
	histories    chan historyRequest
	log          *zap.SugaredLogger
}

// Subscribe opens a live aggregated candle stream for asset.
func (h *SubscriptionsHandle) Subscribe(ctx context.Context, asset string, kind pocket.SubscriptionType) (*SubscriptionStream, error) {
	respond := make(chan subscribeResult, 1)
	select {
	case h.subscribes <- subscribeRequest{asset: asset, kind: kind, respond: respond}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-respond:
		return res.stream, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe cancels an active subscription by asset.
func (h *SubscriptionsHandle) Unsubscribe(ctx context.Context, asset string) error {
	respond := make(chan error, 1)
	select {
	case h.unsubscribes <- unsubscribeRequest{asset: asset, respond: respond}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-respond:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveSubscriptionsCount returns the number of live subscriptions.
func (h *SubscriptionsHandle) ActiveSubscriptionsCount() int {
	return len(h.state.ActiveSubscriptionSymbols())
}

// IsMaxSubscriptionsReached reports whether the concurrent-subscription cap
// has been hit.
func (h *SubscriptionsHandle) IsMaxSubscriptionsReached() bool {
	return h.ActiveSubscriptionsCount() >= maxSubscriptions
}

// History fetches historical candles for asset at the given period (the
// candle length in seconds). Only one outstanding request per
// (asset, period) is allowed.
func (h *SubscriptionsHandle) History(ctx context.Context, asset string, period uint32) ([]pocket.Candle, error) {
	respond := make(chan historyResult, 1)
	select {
	case h.histories <- historyRequest{asset: asset, period: period, respond: respond}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-respond:
		return res.candles, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubscriptionsModule owns the active-subscription lifecycle, the live tick
// feed, and historical-candle correlation.
type SubscriptionsModule struct {
	state   *pocket.State
	mailbox transport.Mailbox
	send    func([]byte) error
	log     *zap.SugaredLogger

	subscribes   chan subscribeRequest
	unsubscribes chan unsubscribeRequest
	histories    chan historyRequest

	historyWaiters map[uuid.UUID]chan historyResult
	pendingEvent   string
}

// NewSubscriptionsModule builds a SubscriptionsModule and its paired handle.
func NewSubscriptionsModule(state *pocket.State, mailbox transport.Mailbox, send func([]byte) error, log *zap.SugaredLogger) (*SubscriptionsModule, *SubscriptionsHandle) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	subscribes := make(chan subscribeRequest, mailboxRequestCapacity)
	unsubscribes := make(chan unsubscribeRequest, mailboxRequestCapacity)
	histories := make(chan historyRequest, mailboxRequestCapacity)
	m := &SubscriptionsModule{
		state:          state,
		mailbox:        mailbox,
		send:           send,
		log:            log,
		subscribes:     subscribes,
		unsubscribes:   unsubscribes,
		histories:      histories,
		historyWaiters: make(map[uuid.UUID]chan historyResult),
	}
	h := &SubscriptionsHandle{state: state, subscribes: subscribes, unsubscribes: unsubscribes, histories: histories, log: log}
	return m, h
}

func (m *SubscriptionsModule) Run() {
	for {
		select {
		case req := <-m.subscribes:
			m.subscribe(req)
		case req := <-m.unsubscribes:
			m.unsubscribe(req)
		case req := <-m.histories:
			m.beginHistory(req)
		case frame, ok := <-m.mailbox:
			if !ok {
				return
			}
			m.handleFrame(frame)
			frame.Release()
		}
	}
}

// OnReconnect waits for the connection to settle, then replays the
// changeSymbol/unsubfor/subfor triplet for every still-active subscription
// (spec §4.7).
func (m *SubscriptionsModule) OnReconnect() {
	time.Sleep(reconnectResubscribeDelay)
	m.resendActiveSubscriptions()
}

func (m *SubscriptionsModule) sendSubscribeFrames(asset string, period uint32) error {
	changeSymbol := fmt.Sprintf(`42["changeSymbol",{"asset":"%s","period":%d}]`, asset, period)
	if err := m.send([]byte(changeSymbol)); err != nil {
		return pocket.NewCoreError(pocket.CoreWebSocket, "failed to send changeSymbol", err)
	}
	if err := m.send(transport.EncodeEvent("unsubfor", `"`+asset+`"`)); err != nil {
		return pocket.NewCoreError(pocket.CoreWebSocket, "failed to send unsubfor", err)
	}
	if err := m.send(transport.EncodeEvent("subfor", `"`+asset+`"`)); err != nil {
		return pocket.NewCoreError(pocket.CoreWebSocket, "failed to send subfor", err)
	}
	return nil
}

func (m *SubscriptionsModule) subscribe(req subscribeRequest) {
	period := uint32(1)
	if p, ok := req.kind.PeriodSecs(); ok {
		period = p
	}
	if err := m.sendSubscribeFrames(req.asset, period); err != nil {
		req.respond <- subscribeResult{err: err}
		return
	}

	events, err := m.state.AddSubscription(req.asset, req.kind, maxSubscriptions)
	if err != nil {
		req.respond <- subscribeResult{err: err}
		return
	}

	req.respond <- subscribeResult{stream: &SubscriptionStream{asset: req.asset, events: events, handle: &SubscriptionsHandle{state: m.state, subscribes: m.subscribes, unsubscribes: m.unsubscribes, histories: m.histories, log: m.log}}}
}

func (m *SubscriptionsModule) unsubscribe(req unsubscribeRequest) {
	if m.state.RemoveSubscription(req.asset) {
		req.respond <- nil
		return
	}
	// Nothing to remove locally; nudge the broker back in sync by replaying
	// every subscription still believed active.
	m.resendActiveSubscriptions()
	req.respond <- pocket.NewPocketError(pocket.PocketSubscriptionNotFound, "subscription for `"+req.asset+"` not found", nil)
}

func (m *SubscriptionsModule) resendActiveSubscriptions() {
	for _, symbol := range m.state.ActiveSubscriptionSymbols() {
		period := uint32(1)
		if p, ok := m.state.SubscriptionPeriodSecs(symbol); ok {
			period = p
		}
		if err := m.sendSubscribeFrames(symbol, period); err != nil {
			m.log.Warnw("failed to resend active subscription", "asset", symbol, "error", err)
		}
	}
}

func (m *SubscriptionsModule) beginHistory(req historyRequest) {
	id := uuid.New()
	if err := m.state.BeginHistoryRequest(req.asset, req.period, id); err != nil {
		req.respond <- historyResult{err: err}
		return
	}
	if err := m.sendSubscribeFrames(req.asset, req.period); err != nil {
		m.state.EndHistoryRequest(id)
		req.respond <- historyResult{err: err}
		return
	}
	m.historyWaiters[id] = req.respond
}

func (m *SubscriptionsModule) handleFrame(f *transport.Frame) {
	switch f.Kind {
	case transport.FrameEvent:
		name, ok := f.EventName()
		if !ok {
			return
		}
		payload, ok := eventPayload(f.Text)
		if !ok {
			return
		}
		m.handleEvent(name, []byte(payload))

	case transport.FrameBinaryEventHeader:
		name, ok := f.EventName()
		if !ok {
			m.pendingEvent = ""
			return
		}
		payload, ok := twoStepHeaderPayload(f.Text)
		if !ok {
			m.pendingEvent = ""
			return
		}
		if isPlaceholderPayload(payload) {
			m.pendingEvent = name
			return
		}
		m.handleEvent(name, []byte(payload))
		m.pendingEvent = ""

	case transport.FrameBinary:
		if m.pendingEvent == "" {
			return
		}
		m.handleEvent(m.pendingEvent, f.Data)
		m.pendingEvent = ""
	}
}

func (m *SubscriptionsModule) handleEvent(name string, data []byte) {
	switch name {
	case "updateStream":
		m.handleUpdateStream(data)
	case "updateHistoryNewFast", "updateHistoryNew":
		m.handleHistory(data)
	}
}

func (m *SubscriptionsModule) handleUpdateStream(data []byte) {
	var tick pocket.StreamData
	if err := json.Unmarshal(data, &tick); err != nil {
		m.log.Warnw("failed to parse updateStream payload", "error", err)
		return
	}
	price, _ := tick.Price.Float64()
	candle := pocket.BaseCandle{
		Timestamp: float64(tick.Timestamp),
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
	}
	if err := m.state.FeedSubscription(tick.Symbol, candle); err != nil {
		m.log.Warnw("failed to feed subscription", "asset", tick.Symbol, "error", err)
	}
}

func (m *SubscriptionsModule) handleHistory(data []byte) {
	var payload historyResponsePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		m.log.Warnw("failed to parse history payload", "error", err)
		return
	}

	id, ok := m.state.TakeHistoryRequest(payload.Asset, payload.Period)
	if !ok {
		return
	}
	respond, ok := m.historyWaiters[id]
	if !ok {
		return
	}
	delete(m.historyWaiters, id)

	if len(payload.Candles) > 0 {
		candles := make([]pocket.Candle, 0, len(payload.Candles))
		for _, c := range payload.Candles {
			candles = append(candles, baseCandleToCandle(c, payload.Asset))
		}
		respond <- historyResult{candles: candles}
		return
	}

	ticks := make([]pocket.HistoryTick, 0, len(payload.History))
	for _, t := range payload.History {
		ticks = append(ticks, pocket.HistoryTick(t))
	}
	respond <- historyResult{candles: pocket.CompileCandlesFromTicks(ticks, payload.Period, payload.Asset)}
}
