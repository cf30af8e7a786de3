package pocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Assets is a lookup table of tradable instruments keyed by symbol.
type Assets struct {
	mu sync.RWMutex
	m  map[string]Asset
}

func NewAssets(assets []Asset) *Assets {
	m := make(map[string]Asset, len(assets))
	for _, a := range assets {
		m[a.Symbol] = a
	}
	return &Assets{m: m}
}

func (a *Assets) Get(symbol string) (Asset, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	asset, ok := a.m[symbol]
	return asset, ok
}

// Validate returns an error unless symbol names an active asset and seconds
// evenly divides one day; the asset's AllowedCandles list is not consulted.
func (a *Assets) Validate(symbol string, seconds uint32) error {
	asset, ok := a.Get(symbol)
	if !ok {
		return NewPocketError(PocketInvalidAsset, "asset with symbol `"+symbol+"` not found", nil)
	}
	return asset.Validate(seconds)
}

func (a *Assets) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.m))
	for _, asset := range a.m {
		out = append(out, asset.Name)
	}
	return out
}

func (a *Assets) ActiveCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, asset := range a.m {
		if asset.IsActive {
			n++
		}
	}
	return n
}

func (a *Assets) Active() []Asset {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Asset, 0, len(a.m))
	for _, asset := range a.m {
		if asset.IsActive {
			out = append(out, asset)
		}
	}
	return out
}

// pendingMarketOrder is a trade sent to the broker but not yet confirmed.
type pendingMarketOrder struct {
	order OpenOrder
	sent  time.Time
}

// recentTradeKey fingerprints a trade request for duplicate suppression
// (spec §4.5): asset, direction, duration, and amount rounded to cents.
type recentTradeKey struct {
	asset    string
	action   Action
	duration uint32
	amountCents int64
}

type recentTradeEntry struct {
	id   uuid.UUID
	sent time.Time
}

// TradeState holds all trade/deal bookkeeping shared across modules
// (spec §3, §4.5, §4.6).
type TradeState struct {
	mu sync.RWMutex

	openedDeals        map[uuid.UUID]Deal
	closedDeals        map[uuid.UUID]Deal
	pendingDeals       map[uuid.UUID]PendingOrder
	pendingMarketOrders map[uuid.UUID]pendingMarketOrder
	recentTrades       map[recentTradeKey]recentTradeEntry
}

func NewTradeState() *TradeState {
	return &TradeState{
		openedDeals:         make(map[uuid.UUID]Deal),
		closedDeals:         make(map[uuid.UUID]Deal),
		pendingDeals:        make(map[uuid.UUID]PendingOrder),
		pendingMarketOrders: make(map[uuid.UUID]pendingMarketOrder),
		recentTrades:        make(map[recentTradeKey]recentTradeEntry),
	}
}

func (ts *TradeState) AddOpenedDeal(d Deal) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.openedDeals[d.ID] = d
}

func (ts *TradeState) AddPendingDeal(p PendingOrder) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.pendingDeals[p.Ticket] = p
}

func (ts *TradeState) UpdateOpenedDeals(deals []Deal) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, d := range deals {
		ts.openedDeals[d.ID] = d
	}
}

// UpdateClosedDeals moves the given deals from opened to closed.
func (ts *TradeState) UpdateClosedDeals(deals []Deal) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, d := range deals {
		delete(ts.openedDeals, d.ID)
		ts.closedDeals[d.ID] = d
	}
}

func (ts *TradeState) ClearClosedDeals() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.closedDeals = make(map[uuid.UUID]Deal)
}

func (ts *TradeState) ClearOpenedDeals() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.openedDeals = make(map[uuid.UUID]Deal)
}

func (ts *TradeState) GetOpenedDeals() map[uuid.UUID]Deal {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make(map[uuid.UUID]Deal, len(ts.openedDeals))
	for k, v := range ts.openedDeals {
		out[k] = v
	}
	return out
}

func (ts *TradeState) GetClosedDeals() map[uuid.UUID]Deal {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make(map[uuid.UUID]Deal, len(ts.closedDeals))
	for k, v := range ts.closedDeals {
		out[k] = v
	}
	return out
}

func (ts *TradeState) ContainsOpenedDeal(id uuid.UUID) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	_, ok := ts.openedDeals[id]
	return ok
}

func (ts *TradeState) ContainsClosedDeal(id uuid.UUID) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	_, ok := ts.closedDeals[id]
	return ok
}

func (ts *TradeState) GetOpenedDeal(id uuid.UUID) (Deal, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	d, ok := ts.openedDeals[id]
	return d, ok
}

func (ts *TradeState) GetClosedDeal(id uuid.UUID) (Deal, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	d, ok := ts.closedDeals[id]
	return d, ok
}

func (ts *TradeState) GetPendingDeal(id uuid.UUID) (PendingOrder, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	p, ok := ts.pendingDeals[id]
	return p, ok
}

func (ts *TradeState) GetPendingDeals() map[uuid.UUID]PendingOrder {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make(map[uuid.UUID]PendingOrder, len(ts.pendingDeals))
	for k, v := range ts.pendingDeals {
		out[k] = v
	}
	return out
}

func (ts *TradeState) RemovePendingDeal(id uuid.UUID) (PendingOrder, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	p, ok := ts.pendingDeals[id]
	if ok {
		delete(ts.pendingDeals, id)
	}
	return p, ok
}

func (ts *TradeState) TrackPendingMarketOrder(order OpenOrder) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.pendingMarketOrders[order.RequestID] = pendingMarketOrder{order: order, sent: time.Now()}
}

func (ts *TradeState) TakePendingMarketOrder(requestID uuid.UUID) (OpenOrder, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	p, ok := ts.pendingMarketOrders[requestID]
	if ok {
		delete(ts.pendingMarketOrders, requestID)
	}
	return p.order, ok
}

// CheckDuplicateTrade reports the id of a recent trade with the given
// fingerprint if RecordTrade registered one within window (spec §4.5). Trades
// still awaiting a broker response are not recorded, so they never match.
func (ts *TradeState) CheckDuplicateTrade(asset string, action Action, seconds uint32, amountCents int64, window time.Duration) (uuid.UUID, bool) {
	key := recentTradeKey{asset: asset, action: action, duration: seconds, amountCents: amountCents}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	entry, ok := ts.recentTrades[key]
	if !ok || time.Since(entry.sent) > window {
		return uuid.Nil, false
	}
	return entry.id, true
}

// RecordTrade registers a fingerprint for duplicate suppression.
func (ts *TradeState) RecordTrade(asset string, action Action, seconds uint32, amountCents int64, id uuid.UUID) {
	key := recentTradeKey{asset: asset, action: action, duration: seconds, amountCents: amountCents}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.recentTrades[key] = recentTradeEntry{id: id, sent: time.Now()}
}

// activeSubscription pairs an event sink with its aggregation state.
type activeSubscription struct {
	events chan SubscriptionEvent
	kind   SubscriptionType
}

// SubscriptionEvent is delivered to a subscriber on every finalized candle
// (spec §4.7). Terminated/Reason describe a termination event, which
// Receive reports as an error; no code path in this package sends one.
type SubscriptionEvent struct {
	Asset     string
	Candle    *Candle
	Terminated bool
	Reason    string
}

// historyRequest tracks an in-flight historical-candle fetch, keyed so a
// second concurrent request for the same (symbol, period) is rejected
// (spec §4.9, PocketHistoryInFlight).
type historyRequest struct {
	symbol string
	period uint32
	id     uuid.UUID
}

// State is the shared, concurrency-safe application state threaded through
// every module (spec §3 "Shared State").
type State struct {
	Ssid                  Ssid
	DefaultConnectionURL  string
	DefaultSymbol         string
	URLs                  []string

	mu      sync.RWMutex
	balance *float64
	assets  *Assets

	serverTimeMu sync.RWMutex
	serverTime   ServerTime

	Trade *TradeState

	validatorsMu sync.RWMutex
	validators   map[uuid.UUID]*Validator

	subsMu            sync.RWMutex
	activeSubscriptions map[string]*activeSubscription

	historiesMu sync.RWMutex
	histories   []historyRequest
}

// StateBuilder constructs a State with the required Ssid and optional
// overrides, mirroring the teacher's fluent config-building style.
type StateBuilder struct {
	ssid                 *Ssid
	defaultConnectionURL string
	defaultSymbol        string
	urls                 []string
}

func NewStateBuilder() *StateBuilder { return &StateBuilder{} }

func (b *StateBuilder) WithSsid(ssid Ssid) *StateBuilder {
	b.ssid = &ssid
	return b
}

func (b *StateBuilder) WithDefaultConnectionURL(url string) *StateBuilder {
	b.defaultConnectionURL = url
	return b
}

func (b *StateBuilder) WithDefaultSymbol(symbol string) *StateBuilder {
	b.defaultSymbol = symbol
	return b
}

func (b *StateBuilder) WithURLs(urls []string) *StateBuilder {
	b.urls = urls
	return b
}

func (b *StateBuilder) Build() (*State, error) {
	if b.ssid == nil {
		return nil, NewPocketError(PocketStateBuilder, "ssid is required", nil)
	}
	symbol := b.defaultSymbol
	if symbol == "" {
		symbol = "EURUSD_otc"
	}
	return &State{
		Ssid:                 *b.ssid,
		DefaultConnectionURL: b.defaultConnectionURL,
		DefaultSymbol:        symbol,
		URLs:                 b.urls,
		serverTime:           NewServerTime(),
		Trade:                NewTradeState(),
		validators:           make(map[uuid.UUID]*Validator),
		activeSubscriptions:  make(map[string]*activeSubscription),
	}, nil
}

// ClearTemporalData resets data that is only valid for the lifetime of a
// single connection: balance, opened deals, and active subscriptions. Closed
// deals, server time offset, and validators survive a reconnect (spec §4.2).
func (s *State) ClearTemporalData() {
	s.mu.Lock()
	s.balance = nil
	s.mu.Unlock()

	s.Trade.ClearOpenedDeals()

	s.subsMu.Lock()
	s.activeSubscriptions = make(map[string]*activeSubscription)
	s.subsMu.Unlock()
}

func (s *State) SetBalance(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = &balance
}

func (s *State) GetBalance() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.balance == nil {
		return 0, false
	}
	return *s.balance, true
}

func (s *State) IsDemo() bool { return s.Ssid.IsDemo() }

func (s *State) GetServerTime() int64 {
	s.serverTimeMu.RLock()
	defer s.serverTimeMu.RUnlock()
	return s.serverTime.Get()
}

func (s *State) UpdateServerTime(timestamp int64) {
	s.serverTimeMu.Lock()
	defer s.serverTimeMu.Unlock()
	s.serverTime.Update(timestamp)
}

func (s *State) IsServerTimeStale() bool {
	s.serverTimeMu.RLock()
	defer s.serverTimeMu.RUnlock()
	return s.serverTime.IsStale()
}

func (s *State) SetAssets(assets *Assets) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = assets
}

func (s *State) GetAssets() (*Assets, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assets, s.assets != nil
}

func (s *State) AddRawValidator(id uuid.UUID, v *Validator) {
	s.validatorsMu.Lock()
	defer s.validatorsMu.Unlock()
	s.validators[id] = v
}

func (s *State) RemoveRawValidator(id uuid.UUID) bool {
	s.validatorsMu.Lock()
	defer s.validatorsMu.Unlock()
	_, ok := s.validators[id]
	delete(s.validators, id)
	return ok
}

func (s *State) ClearRawValidators() {
	s.validatorsMu.Lock()
	defer s.validatorsMu.Unlock()
	s.validators = make(map[uuid.UUID]*Validator)
}

func (s *State) RawValidators() map[uuid.UUID]*Validator {
	s.validatorsMu.RLock()
	defer s.validatorsMu.RUnlock()
	out := make(map[uuid.UUID]*Validator, len(s.validators))
	for k, v := range s.validators {
		out[k] = v
	}
	return out
}

// AddSubscription registers a new active subscription for symbol. Returns
// PocketSubscriptionExists if one is already registered, or
// PocketMaxSubscriptions if the concurrent-subscription cap is reached.
func (s *State) AddSubscription(symbol string, kind SubscriptionType, maxSubscriptions int) (chan SubscriptionEvent, error) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.activeSubscriptions[symbol]; ok {
		return nil, NewPocketError(PocketSubscriptionExists, "subscription for `"+symbol+"` already exists", nil)
	}
	if len(s.activeSubscriptions) >= maxSubscriptions {
		return nil, NewPocketError(PocketMaxSubscriptions, "maximum number of concurrent subscriptions reached", nil)
	}
	events := make(chan SubscriptionEvent, 16)
	s.activeSubscriptions[symbol] = &activeSubscription{events: events, kind: kind}
	return events, nil
}

func (s *State) RemoveSubscription(symbol string) bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	sub, ok := s.activeSubscriptions[symbol]
	if ok {
		close(sub.events)
		delete(s.activeSubscriptions, symbol)
	}
	return ok
}

// FeedSubscription applies one BaseCandle to symbol's aggregation state,
// delivering a SubscriptionEvent if a window completed. No-op if symbol has
// no active subscription.
func (s *State) FeedSubscription(symbol string, candle BaseCandle) error {
	s.subsMu.Lock()
	sub, ok := s.activeSubscriptions[symbol]
	s.subsMu.Unlock()
	if !ok {
		return nil
	}
	completed, err := sub.kind.Update(candle)
	if err != nil {
		return err
	}
	if completed == nil {
		return nil
	}
	c := completed.toCandle(symbol)
	select {
	case sub.events <- SubscriptionEvent{Asset: symbol, Candle: &c}:
	default:
	}
	return nil
}

// ActiveSubscriptionSymbols returns the symbols currently subscribed, used
// by the reconnect path to resubscribe all of them (spec §4.7).
func (s *State) ActiveSubscriptionSymbols() []string {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	out := make([]string, 0, len(s.activeSubscriptions))
	for symbol := range s.activeSubscriptions {
		out = append(out, symbol)
	}
	return out
}

// SubscriptionPeriodSecs reports the candle period a symbol's subscription
// was registered with, used to frame resubscribe messages after a reconnect.
func (s *State) SubscriptionPeriodSecs(symbol string) (uint32, bool) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()
	sub, ok := s.activeSubscriptions[symbol]
	if !ok {
		return 0, false
	}
	return sub.kind.PeriodSecs()
}

// BeginHistoryRequest records an in-flight historical-candle request,
// rejecting a second concurrent request for the same (symbol, period).
func (s *State) BeginHistoryRequest(symbol string, period uint32, id uuid.UUID) error {
	s.historiesMu.Lock()
	defer s.historiesMu.Unlock()
	for _, h := range s.histories {
		if h.symbol == symbol && h.period == period {
			return NewPocketError(PocketHistoryInFlight, "history request for `"+symbol+"` already in flight", nil)
		}
	}
	s.histories = append(s.histories, historyRequest{symbol: symbol, period: period, id: id})
	return nil
}

func (s *State) EndHistoryRequest(id uuid.UUID) {
	s.historiesMu.Lock()
	defer s.historiesMu.Unlock()
	for i, h := range s.histories {
		if h.id == id {
			s.histories = append(s.histories[:i], s.histories[i+1:]...)
			return
		}
	}
}

// TakeHistoryRequest finds and removes the in-flight request matching
// (symbol, period), returning its correlation id. Used by the subscriptions
// module to route an arriving history response back to its original caller.
func (s *State) TakeHistoryRequest(symbol string, period uint32) (uuid.UUID, bool) {
	s.historiesMu.Lock()
	defer s.historiesMu.Unlock()
	for i, h := range s.histories {
		if h.symbol == symbol && h.period == period {
			id := h.id
			s.histories = append(s.histories[:i], s.histories[i+1:]...)
			return id, true
		}
	}
	return uuid.UUID{}, false
}
