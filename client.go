// Package pocketoption is the facade over the broker's real-time trading
// gateway: it wires the Connector, Runner, Router and every protocol module
// behind a single Client, and exposes the operations a trading application
// actually calls (spec §4.12).
package pocketoption

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chipadevteam/pocketoption-go/pocket"
	"github.com/chipadevteam/pocketoption-go/pocket/modules"
	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

// assetsPollInterval is how often WaitForAssets rechecks State while
// waiting for the first updateAssets broadcast.
const assetsPollInterval = 100 * time.Millisecond

// Client is the single entry point embedding applications hold: one Client
// per trading session, wrapping exactly one Runner/Router pair and the
// handles of every wired module.
type Client struct {
	state    *pocket.State
	signals  *pocket.Signals
	router   *transport.Router
	runner   *transport.Runner
	registry *transport.Registry
	log      *zap.SugaredLogger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Client for ssid, registers every protocol module against a
// fresh Router, and constructs the Runner that will drive the connection
// lifecycle once Connect is called. It does not dial anything yet.
func New(ssid pocket.Ssid, defaultSymbol string, cfg pocket.Config, log *zap.SugaredLogger) (*Client, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	state, err := pocket.NewStateBuilder().WithSsid(ssid).WithDefaultSymbol(defaultSymbol).Build()
	if err != nil {
		return nil, err
	}

	signals := pocket.NewSignals()
	router := transport.NewRouter(log)
	registry := transport.NewRegistry()

	connector := transport.NewConnector(ssid, cfg, log)
	sessionInit := modules.NewSessionInit(ssid, defaultSymbol, log)
	runner := transport.NewRunner(cfg, signals, router,
		func(ctx context.Context) (transport.Conn, string, error) { return connector.Connect(ctx, "") },
		sessionInit, log)

	send := runner.Send

	keepAliveMB := router.RegisterLightweightModule("keepalive", transport.NewEventRule())
	keepAlive := modules.NewKeepAliveModule(keepAliveMB, send, log)

	tradesMB := router.RegisterModule("trades", transport.NewOrRule(
		transport.NewEventRule("successopenOrder", "failopenOrder"),
		transport.NewTwoStepEventRule("successopenOrder", "failopenOrder"),
	))
	trades, tradesHandle := modules.NewTradesModule(state, tradesMB, send, log)

	dealsMB := router.RegisterModule("deals", transport.NewOrRule(
		transport.NewEventRule("updateOpenedDeals", "updateClosedDeals", "successcloseOrder"),
		transport.NewTwoStepEventRule("updateOpenedDeals", "updateClosedDeals", "successcloseOrder"),
	))
	deals, dealsHandle := modules.NewDealsModule(state, dealsMB, log)

	subsMB := router.RegisterModule("subscriptions", transport.NewOrRule(
		transport.NewEventRule("updateStream", "updateHistoryNewFast", "updateHistoryNew"),
		transport.NewTwoStepEventRule("updateStream", "updateHistoryNewFast", "updateHistoryNew"),
	))
	subscriptions, subscriptionsHandle := modules.NewSubscriptionsModule(state, subsMB, send, log)

	pendingMB := router.RegisterModule("pendingorders", transport.NewOrRule(
		transport.NewEventRule("successopenPendingOrder", "failopenPendingOrder"),
		transport.NewTwoStepEventRule("successopenPendingOrder", "failopenPendingOrder"),
	))
	pendingOrders, pendingOrdersHandle := modules.NewPendingOrdersModule(state, pendingMB, send, log)

	candlesMB := router.RegisterModule("candles", transport.NewOrRule(
		transport.NewEventRule("updateHistory"),
		transport.NewTwoStepEventRule("updateHistory"),
	))
	candles, candlesHandle := modules.NewCandlesModule(state, candlesMB, send, log)

	assetsMB := router.RegisterLightweightModule("assets", transport.NewEventRule("updateAssets"))
	assets := modules.NewAssetsModule(state, assetsMB, log)

	balanceMB := router.RegisterLightweightModule("balance", transport.NewOrRule(
		transport.NewEventRule("successupdateBalance"),
		transport.NewTwoStepEventRule("successupdateBalance"),
	))
	balance := modules.NewBalanceModule(state, balanceMB, log)

	serverTimeMB := router.RegisterLightweightModule("servertime", transport.NewEventRule("updateStream"))
	serverTime := modules.NewServerTimeModule(state, serverTimeMB, log)

	transport.RegisterHandle(registry, tradesHandle)
	transport.RegisterHandle(registry, dealsHandle)
	transport.RegisterHandle(registry, subscriptionsHandle)
	transport.RegisterHandle(registry, pendingOrdersHandle)
	transport.RegisterHandle(registry, candlesHandle)

	c := &Client{state: state, signals: signals, router: router, runner: runner, registry: registry, log: log}

	modulesList := []transport.Module{keepAlive, trades, deals, subscriptions, pendingOrders, candles, assets, balance, serverTime}
	for _, m := range modulesList {
		m := m
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			m.Run()
		}()
	}
	runner.OnReconnect(func() {
		for _, m := range modulesList {
			m.OnReconnect()
		}
	})

	return c, nil
}

// Connect starts the Runner's reconnection loop in the background. Connect
// returns immediately; use Signals/State to observe when the connection
// actually reaches Connected.
func (c *Client) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.runner.Run(runCtx)
	return nil
}

// Disconnect tears down the live connection; the Runner will reconnect per
// its backoff policy unless Shutdown was also called. Temporal shared state
// (balance, opened deals, active subscriptions) is cleared first.
func (c *Client) Disconnect() {
	c.state.ClearTemporalData()
	c.runner.Disconnect()
}

// Reconnect is Disconnect followed by the Runner's normal reconnection
// path; there is nothing additional to trigger since the reconnect loop
// already owns redialing.
func (c *Client) Reconnect(ctx context.Context) error {
	c.Disconnect()
	return nil
}

// Shutdown consumes the Client: it stops the Runner, closes every module's
// mailbox, and waits for every module goroutine to return.
func (c *Client) Shutdown() {
	c.runner.Shutdown()
	if c.cancel != nil {
		// Done only closes once Run has returned, and Run starts in Connect.
		<-c.runner.Done()
	}
	c.router.Close()
	c.wg.Wait()
	if c.cancel != nil {
		c.cancel()
	}
}

// Signals returns the connection-state broadcast channel (spec §4.2).
func (c *Client) Signals() <-chan pocket.ConnectionState { return c.signals.Subscribe() }

// State returns the current connection state.
func (c *Client) State() pocket.ConnectionState { return c.runner.State() }

// Balance returns the last known account balance, or false if no balance
// update has been observed yet.
func (c *Client) Balance() (float64, bool) { return c.state.GetBalance() }

// IsDemo reports whether the session authenticated against a demo account.
func (c *Client) IsDemo() bool { return c.state.IsDemo() }

// ServerTime returns the last observed broker timestamp, adjusted by the
// tracked clock-skew offset.
func (c *Client) ServerTime() int64 { return c.state.GetServerTime() }

// Assets returns the asset table, or false if updateAssets has not arrived
// yet.
func (c *Client) Assets() (*pocket.Assets, bool) { return c.state.GetAssets() }

// WaitForAssets polls until the asset table has been populated or timeout
// elapses.
func (c *Client) WaitForAssets(ctx context.Context, timeout time.Duration) (*pocket.Assets, error) {
	deadline := time.Now().Add(timeout)
	for {
		if assets, ok := c.state.GetAssets(); ok {
			return assets, nil
		}
		if time.Now().After(deadline) {
			return nil, pocket.NewTimeoutError("wait_for_assets", "waiting for updateAssets", timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(assetsPollInterval):
		}
	}
}

// Trade places a trade in the given direction and blocks for the result.
func (c *Client) Trade(ctx context.Context, asset string, action pocket.Action, amount decimal.Decimal, seconds uint32) (pocket.Deal, error) {
	return transport.MustHandle[*modules.TradesHandle](c.registry).Trade(ctx, asset, action, amount, seconds)
}

// Buy places a call trade and blocks for the result.
func (c *Client) Buy(ctx context.Context, asset string, amount decimal.Decimal, seconds uint32) (pocket.Deal, error) {
	return transport.MustHandle[*modules.TradesHandle](c.registry).Buy(ctx, asset, amount, seconds)
}

// Sell places a put trade and blocks for the result.
func (c *Client) Sell(ctx context.Context, asset string, amount decimal.Decimal, seconds uint32) (pocket.Deal, error) {
	return transport.MustHandle[*modules.TradesHandle](c.registry).Sell(ctx, asset, amount, seconds)
}

// Result awaits a trade's final (closed) state.
func (c *Client) Result(ctx context.Context, tradeID uuid.UUID) (pocket.Deal, error) {
	return transport.MustHandle[*modules.DealsHandle](c.registry).CheckResult(ctx, tradeID)
}

// ResultWithTimeout is Result bounded by an explicit timeout.
func (c *Client) ResultWithTimeout(ctx context.Context, tradeID uuid.UUID, timeout time.Duration) (pocket.Deal, error) {
	return transport.MustHandle[*modules.DealsHandle](c.registry).CheckResultWithTimeout(ctx, tradeID, timeout)
}

// GetOpenedDeals returns a snapshot of every currently open deal.
func (c *Client) GetOpenedDeals() map[uuid.UUID]pocket.Deal { return c.state.Trade.GetOpenedDeals() }

// GetClosedDeals returns a snapshot of every closed deal observed so far.
func (c *Client) GetClosedDeals() map[uuid.UUID]pocket.Deal { return c.state.Trade.GetClosedDeals() }

// ClearClosedDeals discards the closed-deal history.
func (c *Client) ClearClosedDeals() { c.state.Trade.ClearClosedDeals() }

// GetOpenedDeal looks up a single open deal by id.
func (c *Client) GetOpenedDeal(id uuid.UUID) (pocket.Deal, bool) { return c.state.Trade.GetOpenedDeal(id) }

// GetClosedDeal looks up a single closed deal by id.
func (c *Client) GetClosedDeal(id uuid.UUID) (pocket.Deal, bool) { return c.state.Trade.GetClosedDeal(id) }

// Subscribe opens a live aggregated candle stream for asset (spec §4.7).
func (c *Client) Subscribe(ctx context.Context, asset string, kind pocket.SubscriptionType) (*modules.SubscriptionStream, error) {
	return transport.MustHandle[*modules.SubscriptionsHandle](c.registry).Subscribe(ctx, asset, kind)
}

// Unsubscribe tears down a previously opened subscription.
func (c *Client) Unsubscribe(ctx context.Context, asset string) error {
	return transport.MustHandle[*modules.SubscriptionsHandle](c.registry).Unsubscribe(ctx, asset)
}

// Ticks subscribes to every individual price tick for asset as a stream of
// singleton candles, without chunk/time aggregation.
func (c *Client) Ticks(ctx context.Context, asset string) (*modules.SubscriptionStream, error) {
	return c.Subscribe(ctx, asset, pocket.NewSubscriptionNone())
}

// History runs the subscriptions engine's triplet-based history request
// (spec §4.7) — distinct from GetCandles's one-shot getHistory command.
func (c *Client) History(ctx context.Context, asset string, period uint32) ([]pocket.Candle, error) {
	return transport.MustHandle[*modules.SubscriptionsHandle](c.registry).History(ctx, asset, period)
}

// GetCandles fetches historical candles via the one-shot getHistory command
// (spec §4.9).
func (c *Client) GetCandles(ctx context.Context, asset string, period uint32) ([]pocket.Candle, error) {
	return transport.MustHandle[*modules.CandlesHandle](c.registry).GetHistory(ctx, asset, period)
}

// GetCandlesAdvanced is GetCandles with an additional offset parameter,
// served by the same one-shot historical-data module (the broker's wire
// protocol carries no separate "advanced" request shape to exercise here).
// The offset is accepted but not sent; results are those of GetCandles.
func (c *Client) GetCandlesAdvanced(ctx context.Context, asset string, period uint32, offset int) ([]pocket.Candle, error) {
	return c.GetCandles(ctx, asset, period)
}

// OpenPendingOrder places a pending (not-yet-triggered) order.
func (c *Client) OpenPendingOrder(ctx context.Context, openType uint32, amount decimal.Decimal, asset string, openTime uint32, openPrice decimal.Decimal, timeframe, minPayout, command uint32) (pocket.PendingOrder, error) {
	return transport.MustHandle[*modules.PendingOrdersHandle](c.registry).OpenPendingOrder(ctx, openType, amount, asset, openTime, openPrice, timeframe, minPayout, command)
}
