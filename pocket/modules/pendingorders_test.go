package modules

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

func newPendingOrdersFixture(t *testing.T) (*PendingOrdersModule, *PendingOrdersHandle, transport.Mailbox, chan []byte) {
	t.Helper()
	mb := transport.NewMailbox()
	sent := make(chan []byte, 16)
	send := func(data []byte) error {
		sent <- data
		return nil
	}
	m, h := NewPendingOrdersModule(newTestState(t), mb, send, nil)
	go m.Run()
	return m, h, mb, sent
}

func TestPendingOrdersHandleOpenSuccess(t *testing.T) {
	_, h, mb, sent := newPendingOrdersFixture(t)

	results := make(chan pendingOrderResult, 1)
	go func() {
		order, err := h.OpenPendingOrder(context.Background(), 0, decimal.NewFromInt(10), "EURUSD_otc", 0, decimal.NewFromFloat(1.1), 60, 80, 0)
		results <- pendingOrderResult{order: order, err: err}
	}()

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for openPendingOrder frame")
	}

	deliverText(mb, `42["successopenPendingOrder",{"ticket":"11111111-1111-1111-1111-111111111111","symbol":"EURUSD_otc","amount":"10","id":1}]`)

	select {
	case res := <-results:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if res.order.Symbol != "EURUSD_otc" {
			t.Fatalf("unexpected pending order symbol: %q", res.order.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for pending order result")
	}
	close(mb)
}

func TestPendingOrdersHandleOpenFailure(t *testing.T) {
	_, h, mb, sent := newPendingOrdersFixture(t)

	results := make(chan pendingOrderResult, 1)
	go func() {
		order, err := h.OpenPendingOrder(context.Background(), 0, decimal.NewFromInt(10), "EURUSD_otc", 0, decimal.NewFromFloat(1.1), 60, 80, 0)
		results <- pendingOrderResult{order: order, err: err}
	}()

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for openPendingOrder frame")
	}

	deliverText(mb, `42["failopenPendingOrder",{"error":"not enough balance","amount":"10","asset":"EURUSD_otc"}]`)

	select {
	case res := <-results:
		if res.err == nil {
			t.Fatalf("expected an error")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for pending order result")
	}
	close(mb)
}

func TestPendingOrdersHandleDropsResponseWithNoPendingRequest(t *testing.T) {
	_, _, mb, _ := newPendingOrdersFixture(t)
	deliverText(mb, `42["successopenPendingOrder",{"ticket":"11111111-1111-1111-1111-111111111111","symbol":"EURUSD_otc","amount":"10","id":1}]`)
	time.Sleep(20 * time.Millisecond)
	close(mb)
}
