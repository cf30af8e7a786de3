package modules

import (
	"context"
	"testing"
	"time"

	"github.com/chipadevteam/pocketoption-go/pocket"
	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

func newSubscriptionsFixture(t *testing.T) (*SubscriptionsModule, *SubscriptionsHandle, transport.Mailbox, chan []byte) {
	t.Helper()
	mb := transport.NewMailbox()
	sent := make(chan []byte, 16)
	send := func(data []byte) error {
		sent <- data
		return nil
	}
	m, h := NewSubscriptionsModule(newTestState(t), mb, send, nil)
	go m.Run()
	return m, h, mb, sent
}

func drainThreeFrames(t *testing.T, sent chan []byte) {
	t.Helper()
	for i := 0; i < 3; i++ {
		select {
		case <-sent:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for subscribe frame %d", i+1)
		}
	}
}

func TestSubscriptionsHandleSubscribeSendsTripletAndDeliversCandle(t *testing.T) {
	_, h, mb, sent := newSubscriptionsFixture(t)

	stream, err := h.Subscribe(context.Background(), "EURUSD_otc", pocket.NewSubscriptionChunk(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drainThreeFrames(t, sent)

	deliverText(mb, `42["updateStream",[["EURUSD_otc",1000,1.2345]]]`)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	candle, err := stream.Receive(ctx)
	if err != nil {
		t.Fatalf("unexpected error receiving candle: %v", err)
	}
	if candle.Symbol != "EURUSD_otc" {
		t.Fatalf("unexpected candle symbol: %q", candle.Symbol)
	}
	close(mb)
}

func TestSubscriptionsHandleSubscribeRejectsDuplicate(t *testing.T) {
	_, h, mb, sent := newSubscriptionsFixture(t)

	if _, err := h.Subscribe(context.Background(), "EURUSD_otc", pocket.NewSubscriptionChunk(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drainThreeFrames(t, sent)

	if _, err := h.Subscribe(context.Background(), "EURUSD_otc", pocket.NewSubscriptionChunk(1)); err == nil {
		t.Fatalf("expected an error subscribing to an already-subscribed asset")
	}
	drainThreeFrames(t, sent)
	close(mb)
}

func TestSubscriptionsHandleUnsubscribeFoundSendsNoFrame(t *testing.T) {
	_, h, mb, sent := newSubscriptionsFixture(t)

	if _, err := h.Subscribe(context.Background(), "EURUSD_otc", pocket.NewSubscriptionChunk(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drainThreeFrames(t, sent)

	if err := h.Unsubscribe(context.Background(), "EURUSD_otc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case frame := <-sent:
		t.Fatalf("unsubscribing a found subscription should not send a frame, got %q", frame)
	case <-time.After(50 * time.Millisecond):
	}
	close(mb)
}

func TestSubscriptionsHandleUnsubscribeNotFound(t *testing.T) {
	_, h, mb, _ := newSubscriptionsFixture(t)

	err := h.Unsubscribe(context.Background(), "EURUSD_otc")
	if err == nil {
		t.Fatalf("expected a not-found error")
	}
	close(mb)
}

func TestSubscriptionsHandleHistoryResolvesByAssetAndPeriod(t *testing.T) {
	_, h, mb, sent := newSubscriptionsFixture(t)

	results := make(chan historyResult, 1)
	go func() {
		candles, err := h.History(context.Background(), "EURUSD_otc", 60)
		results <- historyResult{candles: candles, err: err}
	}()
	drainThreeFrames(t, sent)

	deliverText(mb, `42["updateHistoryNewFast",{"asset":"EURUSD_otc","period":60,"history":[[1000,1.1],[1030,1.2],[1059,1.3],[1061,1.4]]}]`)

	select {
	case res := <-results:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if len(res.candles) == 0 {
			t.Fatalf("expected compiled candles, got none")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for history result")
	}
	close(mb)
}

func TestSubscriptionsHandleHistoryRejectsDuplicateInFlight(t *testing.T) {
	_, h, mb, sent := newSubscriptionsFixture(t)

	go func() {
		_, _ = h.History(context.Background(), "EURUSD_otc", 60)
	}()
	drainThreeFrames(t, sent)
	time.Sleep(20 * time.Millisecond)

	_, err := h.History(context.Background(), "EURUSD_otc", 60)
	if err == nil {
		t.Fatalf("expected an error for a duplicate in-flight history request")
	}
	close(mb)
}

func TestSubscriptionsModuleOnReconnectResendsTripletPerActiveAsset(t *testing.T) {
	m, h, mb, sent := newSubscriptionsFixture(t)

	if _, err := h.Subscribe(context.Background(), "EURUSD_otc", pocket.NewSubscriptionChunk(1)); err != nil {
		t.Fatalf("subscribe EURUSD_otc: %v", err)
	}
	drainThreeFrames(t, sent)

	if _, err := h.Subscribe(context.Background(), "GBPUSD_otc", pocket.NewSubscriptionChunk(1)); err != nil {
		t.Fatalf("subscribe GBPUSD_otc: %v", err)
	}
	drainThreeFrames(t, sent)

	done := make(chan struct{})
	go func() {
		m.OnReconnect()
		close(done)
	}()

	select {
	case <-sent:
		t.Fatalf("resubscribe frames sent before the reconnect delay elapsed")
	case <-time.After(500 * time.Millisecond):
	}

	for i := 0; i < 6; i++ {
		select {
		case <-sent:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for resent subscribe frame %d", i+1)
		}
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("OnReconnect did not return after resending")
	}
	close(mb)
}
