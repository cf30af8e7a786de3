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

// dealUpdateEvents are the three event names DealsModule reacts to. The
// broker sends these almost exclusively as two-step "451-[...]" + binary
// pairs, but occasionally embeds the payload directly in the header instead
// of a placeholder, and — defensively — an inline "42[...]" form is accepted
// too (spec §6).
var dealUpdateEvents = []string{"updateOpenedDeals", "updateClosedDeals", "successcloseOrder"}

// dealsExpected tracks which event a header-only two-step frame announced,
// so the following raw binary frame is parsed the right way.
type dealsExpected int

const (
	dealsExpectedNone dealsExpected = iota
	dealsExpectedOpened
	dealsExpectedClosed
	dealsExpectedCloseOrder
)

func dealsExpectedFor(event string) dealsExpected {
	switch event {
	case "updateOpenedDeals":
		return dealsExpectedOpened
	case "updateClosedDeals":
		return dealsExpectedClosed
	case "successcloseOrder":
		return dealsExpectedCloseOrder
	default:
		return dealsExpectedNone
	}
}

// closeOrderPayload is the successcloseOrder shape; some broker builds send
// just the deal list instead, handled as a fallback.
type closeOrderPayload struct {
	Profit decimal.Decimal `json:"profit"`
	Deals  []pocket.Deal   `json:"deals"`
}

func decodeDealsList(data []byte, expected dealsExpected) ([]pocket.Deal, bool) {
	if expected == dealsExpectedCloseOrder {
		var co closeOrderPayload
		if err := json.Unmarshal(data, &co); err == nil && len(co.Deals) > 0 {
			return co.Deals, true
		}
	}
	var deals []pocket.Deal
	if err := json.Unmarshal(data, &deals); err != nil {
		return nil, false
	}
	return deals, true
}

type dealsRequest struct {
	tradeID uuid.UUID
	respond chan tradeResult
}

// DealsHandle is the facade-facing entry point for awaiting a trade's final
// result (spec §4.6, §4.12 result/result_with_timeout).
type DealsHandle struct {
	requests chan dealsRequest
}

// CheckResult blocks until the deal is closed (or already is), or ctx is
// cancelled.
func (h *DealsHandle) CheckResult(ctx context.Context, tradeID uuid.UUID) (pocket.Deal, error) {
	var zero pocket.Deal
	respond := make(chan tradeResult, 1)
	select {
	case h.requests <- dealsRequest{tradeID: tradeID, respond: respond}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case res := <-respond:
		return res.deal, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// CheckResultWithTimeout is CheckResult bounded by an explicit timeout,
// reported as a *pocket.PocketError of kind PocketTimeout on expiry.
func (h *DealsHandle) CheckResultWithTimeout(ctx context.Context, tradeID uuid.UUID, timeout time.Duration) (pocket.Deal, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deal, err := h.CheckResult(ctx, tradeID)
	if err == context.DeadlineExceeded {
		return deal, pocket.NewTimeoutError("check_result", "waiting for trade '"+tradeID.String()+"' result", timeout)
	}
	return deal, err
}

// DealsModule listens for deal-close broadcasts, keeps TradeState's
// opened/closed maps current, and resolves every waiter registered for a
// trade id the instant it closes.
type DealsModule struct {
	state    *pocket.State
	mailbox  transport.Mailbox
	requests chan dealsRequest
	log      *zap.SugaredLogger

	waiting  map[uuid.UUID][]chan tradeResult
	expected dealsExpected
}

// NewDealsModule builds a DealsModule and its paired handle.
func NewDealsModule(state *pocket.State, mailbox transport.Mailbox, log *zap.SugaredLogger) (*DealsModule, *DealsHandle) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	requests := make(chan dealsRequest, mailboxRequestCapacity)
	m := &DealsModule{
		state:    state,
		mailbox:  mailbox,
		requests: requests,
		log:      log,
		waiting:  make(map[uuid.UUID][]chan tradeResult),
	}
	return m, &DealsHandle{requests: requests}
}

func (m *DealsModule) Run() {
	for {
		select {
		case req := <-m.requests:
			m.checkResult(req)
		case frame, ok := <-m.mailbox:
			if !ok {
				return
			}
			m.handleFrame(frame)
			frame.Release()
		}
	}
}

// OnReconnect clears the header/binary pairing state: a half-observed
// two-step sequence cannot span a reconnect.
func (m *DealsModule) OnReconnect() {
	m.expected = dealsExpectedNone
}

func (m *DealsModule) checkResult(req dealsRequest) {
	if m.state.Trade.ContainsOpenedDeal(req.tradeID) {
		m.waiting[req.tradeID] = append(m.waiting[req.tradeID], req.respond)
		return
	}
	if deal, ok := m.state.Trade.GetClosedDeal(req.tradeID); ok {
		req.respond <- tradeResult{deal: deal}
		return
	}
	req.respond <- tradeResult{err: pocket.NewDealNotFoundError(req.tradeID)}
}

func (m *DealsModule) handleFrame(f *transport.Frame) {
	switch f.Kind {
	case transport.FrameEvent:
		name, ok := f.EventName()
		if !ok {
			return
		}
		expected := dealsExpectedFor(name)
		if expected == dealsExpectedNone {
			return
		}
		payload, ok := eventPayload(f.Text)
		if !ok {
			m.log.Warnw("failed to extract deals event payload", "event", name)
			return
		}
		m.applyUpdate([]byte(payload), expected)

	case transport.FrameBinaryEventHeader:
		name, ok := f.EventName()
		if !ok {
			m.expected = dealsExpectedNone
			return
		}
		expected := dealsExpectedFor(name)
		if expected == dealsExpectedNone {
			m.expected = dealsExpectedNone
			return
		}
		payload, ok := twoStepHeaderPayload(f.Text)
		if !ok {
			m.expected = dealsExpectedNone
			return
		}
		if isPlaceholderPayload(payload) {
			// Real data follows as a separate binary frame.
			m.expected = expected
			return
		}
		// The broker embedded the data directly in the header.
		m.applyUpdate([]byte(payload), expected)
		m.expected = dealsExpectedNone

	case transport.FrameBinary:
		if m.expected == dealsExpectedNone {
			m.log.Warnw("received unexpected binary deals payload with no pending header")
			return
		}
		m.applyUpdate(f.Data, m.expected)
		m.expected = dealsExpectedNone
	}
}

func (m *DealsModule) applyUpdate(data []byte, expected dealsExpected) {
	deals, ok := decodeDealsList(data, expected)
	if !ok {
		m.log.Warnw("failed to parse deals payload", "expected", expected)
		return
	}

	if expected == dealsExpectedOpened {
		m.state.Trade.UpdateOpenedDeals(deals)
		return
	}

	m.state.Trade.UpdateClosedDeals(deals)
	for _, deal := range deals {
		waiters, ok := m.waiting[deal.ID]
		if !ok {
			continue
		}
		delete(m.waiting, deal.ID)
		for _, respond := range waiters {
			respond <- tradeResult{deal: deal}
		}
	}
}
