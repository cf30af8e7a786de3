package modules

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/chipadevteam/pocketoption-go/pocket"
	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

// candlesRequest is sent from a CandlesHandle call into the module's Run loop.
// The broker never echoes a correlation id for getHistory, so only one
// request may be outstanding at a time (mirrors pendingorders.go).
type candlesRequest struct {
	asset   string
	period  uint32
	respond chan candlesResult
}

type candlesResult struct {
	candles []pocket.Candle
	err     error
}

// decodeCandlesResponse decodes a response that is either a finished candle
// list or a bare error string, sharing no common discriminator field.
func decodeCandlesResponse(data []byte) ([]pocket.Candle, string, bool) {
	var candles []pocket.Candle
	if err := json.Unmarshal(data, &candles); err == nil && len(candles) > 0 {
		return candles, "", true
	}
	var errMsg string
	if err := json.Unmarshal(data, &errMsg); err == nil && errMsg != "" {
		return nil, errMsg, true
	}
	return nil, "", false
}

// CandlesHandle is the facade-facing entry point for one-shot historical
// candle lookups via getHistory (spec §4.9, §4.12 get_candles) — distinct
// from SubscriptionsHandle.History's changeSymbol/subfor-based flow.
type CandlesHandle struct {
	requests chan candlesRequest
}

// GetHistory fetches candles for asset at the given period, blocking until
// the broker responds or ctx is cancelled.
func (h *CandlesHandle) GetHistory(ctx context.Context, asset string, period uint32) ([]pocket.Candle, error) {
	respond := make(chan candlesResult, 1)
	select {
	case h.requests <- candlesRequest{asset: asset, period: period, respond: respond}:
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

// CandlesModule tracks the single in-flight getHistory request.
type CandlesModule struct {
	state    *pocket.State
	mailbox  transport.Mailbox
	requests chan candlesRequest
	send     func([]byte) error
	log      *zap.SugaredLogger

	pending       *candlesRequest
	pendingBinary bool
}

// NewCandlesModule builds a CandlesModule and its paired handle.
func NewCandlesModule(state *pocket.State, mailbox transport.Mailbox, send func([]byte) error, log *zap.SugaredLogger) (*CandlesModule, *CandlesHandle) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	requests := make(chan candlesRequest, mailboxRequestCapacity)
	m := &CandlesModule{state: state, mailbox: mailbox, requests: requests, send: send, log: log}
	return m, &CandlesHandle{requests: requests}
}

func (m *CandlesModule) Run() {
	for {
		select {
		case req := <-m.requests:
			m.getHistory(req)
		case frame, ok := <-m.mailbox:
			if !ok {
				return
			}
			m.handleFrame(frame)
			frame.Release()
		}
	}
}

// OnReconnect drops any in-flight request and pairing state; the caller
// observes a timeout via ctx.
func (m *CandlesModule) OnReconnect() {
	m.pending = nil
	m.pendingBinary = false
}

func (m *CandlesModule) getHistory(req candlesRequest) {
	if m.pending != nil {
		m.log.Warnw("overwriting a pending getHistory request; concurrent get_candles calls are not supported")
	}
	m.pending = &req

	frame := fmt.Sprintf(`42["getHistory",{"asset":"%s","period":%d}]`, req.asset, req.period)
	if err := m.send([]byte(frame)); err != nil {
		m.log.Warnw("failed to send getHistory", "error", err)
		m.resolvePending(candlesResult{err: pocket.NewCoreError(pocket.CoreChannelSend, "failed to transmit getHistory request", err)})
	}
}

func (m *CandlesModule) resolvePending(res candlesResult) {
	if m.pending == nil {
		return
	}
	m.pending.respond <- res
	m.pending = nil
}

func (m *CandlesModule) handleFrame(f *transport.Frame) {
	switch f.Kind {
	case transport.FrameBinaryEventHeader:
		_, ok := f.EventName()
		if !ok {
			m.pendingBinary = false
			return
		}
		m.pendingBinary = true

	case transport.FrameBinary:
		if !m.pendingBinary {
			return
		}
		m.pendingBinary = false
		m.applyResponse(f.Data)

	case transport.FrameEvent:
		payload, ok := eventPayload(f.Text)
		if !ok {
			return
		}
		m.applyResponse([]byte(payload))
	}
}

func (m *CandlesModule) applyResponse(data []byte) {
	if m.pending == nil {
		return
	}
	candles, errMsg, ok := decodeCandlesResponse(data)
	if !ok {
		m.log.Warnw("received unrecognized getHistory response")
		return
	}
	if errMsg != "" {
		m.resolvePending(candlesResult{err: pocket.NewPocketError(pocket.PocketGeneral, errMsg, nil)})
		return
	}
	m.resolvePending(candlesResult{candles: candles})
}
