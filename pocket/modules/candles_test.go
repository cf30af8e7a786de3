package modules

import (
	"context"
	"testing"
	"time"

	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

func newCandlesFixture(t *testing.T) (*CandlesModule, *CandlesHandle, transport.Mailbox, chan []byte) {
	t.Helper()
	mb := transport.NewMailbox()
	sent := make(chan []byte, 16)
	send := func(data []byte) error {
		sent <- data
		return nil
	}
	m, h := NewCandlesModule(newTestState(t), mb, send, nil)
	go m.Run()
	return m, h, mb, sent
}

func TestCandlesHandleGetHistoryTwoStep(t *testing.T) {
	_, h, mb, sent := newCandlesFixture(t)

	results := make(chan candlesResult, 1)
	go func() {
		candles, err := h.GetHistory(context.Background(), "EURUSD_otc", 60)
		results <- candlesResult{candles: candles, err: err}
	}()

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for getHistory frame")
	}

	deliverText(mb, `451-["updateHistory",{"_placeholder":true,"num":0}]`)
	mb <- transport.NewFrame([]byte(`[{"symbol":"EURUSD_otc","timestamp":1000,"open":"1.1","high":"1.2","low":"1.0","close":"1.15"}]`), true)

	select {
	case res := <-results:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if len(res.candles) != 1 || res.candles[0].Symbol != "EURUSD_otc" {
			t.Fatalf("unexpected candles: %+v", res.candles)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for getHistory result")
	}
	close(mb)
}

func TestCandlesHandleGetHistoryError(t *testing.T) {
	_, h, mb, sent := newCandlesFixture(t)

	results := make(chan candlesResult, 1)
	go func() {
		candles, err := h.GetHistory(context.Background(), "EURUSD_otc", 60)
		results <- candlesResult{candles: candles, err: err}
	}()

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for getHistory frame")
	}

	deliverText(mb, `451-["updateHistory",{"_placeholder":true,"num":0}]`)
	mb <- transport.NewFrame([]byte(`"asset not found"`), true)

	select {
	case res := <-results:
		if res.err == nil {
			t.Fatalf("expected an error")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for getHistory result")
	}
	close(mb)
}
