package modules

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

func newDealsFixture(t *testing.T) (*DealsModule, *DealsHandle, transport.Mailbox) {
	t.Helper()
	mb := transport.NewMailbox()
	m, h := NewDealsModule(newTestState(t), mb, nil)
	go m.Run()
	return m, h, mb
}

func TestDealsModuleResolvesWaiterOnInlineCloseUpdate(t *testing.T) {
	_, h, mb := newDealsFixture(t)

	id := uuid.New()
	deliverText(mb, `42["updateOpenedDeals",[{"id":"`+id.String()+`","asset":"EURUSD_otc"}]]`)
	time.Sleep(10 * time.Millisecond)

	resultCh := make(chan tradeResult, 1)
	go func() {
		deal, err := h.CheckResult(context.Background(), id)
		resultCh <- tradeResult{deal: deal, err: err}
	}()
	time.Sleep(10 * time.Millisecond)

	deliverText(mb, `42["updateClosedDeals",[{"id":"`+id.String()+`","asset":"EURUSD_otc","profit":"8.5"}]]`)

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if res.deal.ID != id {
			t.Fatalf("expected deal id %s, got %s", id, res.deal.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for deal result")
	}
	close(mb)
}

func TestDealsModuleCheckResultReturnsNotFound(t *testing.T) {
	_, h, mb := newDealsFixture(t)
	_, err := h.CheckResult(context.Background(), uuid.New())
	if err == nil {
		t.Fatalf("expected a DealNotFound error")
	}
	close(mb)
}

func TestDealsModuleTwoStepHeaderWithInlineDataAppliesImmediately(t *testing.T) {
	_, h, mb := newDealsFixture(t)

	id := uuid.New()
	deliverText(mb, `42["updateOpenedDeals",[{"id":"`+id.String()+`","asset":"EURUSD_otc"}]]`)
	time.Sleep(10 * time.Millisecond)

	resultCh := make(chan tradeResult, 1)
	go func() {
		deal, err := h.CheckResult(context.Background(), id)
		resultCh <- tradeResult{deal: deal, err: err}
	}()
	time.Sleep(10 * time.Millisecond)

	closeOrderPayload := `451-["successcloseOrder",{"profit":"8.5","deals":[{"id":"` + id.String() + `","asset":"EURUSD_otc"}]}]`
	deliverText(mb, closeOrderPayload)

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if res.deal.ID != id {
			t.Fatalf("expected deal id %s, got %s", id, res.deal.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for deal result")
	}
	close(mb)
}

func TestDealsModuleTwoStepPlaceholderWaitsForBinary(t *testing.T) {
	_, h, mb := newDealsFixture(t)

	id := uuid.New()
	deliverText(mb, `42["updateOpenedDeals",[{"id":"`+id.String()+`","asset":"EURUSD_otc"}]]`)
	time.Sleep(10 * time.Millisecond)

	resultCh := make(chan tradeResult, 1)
	go func() {
		deal, err := h.CheckResult(context.Background(), id)
		resultCh <- tradeResult{deal: deal, err: err}
	}()
	time.Sleep(10 * time.Millisecond)

	deliverText(mb, `451-["updateClosedDeals",{"_placeholder":true,"num":0}]`)
	select {
	case <-resultCh:
		t.Fatalf("result should not resolve before the binary payload arrives")
	default:
	}

	mb <- transport.NewFrame([]byte(`[{"id":"`+id.String()+`","asset":"EURUSD_otc"}]`), true)

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if res.deal.ID != id {
			t.Fatalf("expected deal id %s, got %s", id, res.deal.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for deal result")
	}
	close(mb)
}
