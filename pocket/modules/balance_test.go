package modules

import (
	"testing"
	"time"

	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

func newBalanceFixture(t *testing.T) (*BalanceModule, transport.Mailbox) {
	t.Helper()
	mb := transport.NewMailbox()
	m := NewBalanceModule(newTestState(t), mb, nil)
	go m.Run()
	return m, mb
}

func TestBalanceModuleAppliesInlineTwoStepHeader(t *testing.T) {
	m, mb := newBalanceFixture(t)

	deliverText(mb, `451-["successupdateBalance",{"balance":123.45,"isDemo":1}]`)
	time.Sleep(20 * time.Millisecond)

	balance, ok := m.state.GetBalance()
	if !ok {
		t.Fatalf("expected balance to be set")
	}
	if balance != 123.45 {
		t.Fatalf("unexpected balance: %v", balance)
	}
	close(mb)
}

func TestBalanceModuleAppliesPlaceholderFollowedByBinary(t *testing.T) {
	m, mb := newBalanceFixture(t)

	deliverText(mb, `451-["successupdateBalance",{"_placeholder":true,"num":0}]`)
	mb <- transport.NewFrame([]byte(`{"balance":67.89,"isDemo":1}`), true)
	time.Sleep(20 * time.Millisecond)

	balance, ok := m.state.GetBalance()
	if !ok {
		t.Fatalf("expected balance to be set")
	}
	if balance != 67.89 {
		t.Fatalf("unexpected balance: %v", balance)
	}
	close(mb)
}

func TestBalanceModuleAppliesInlineEventFrame(t *testing.T) {
	m, mb := newBalanceFixture(t)

	deliverText(mb, `42["successupdateBalance",{"balance":10,"isDemo":1}]`)
	time.Sleep(20 * time.Millisecond)

	balance, ok := m.state.GetBalance()
	if !ok {
		t.Fatalf("expected balance to be set")
	}
	if balance != 10 {
		t.Fatalf("unexpected balance: %v", balance)
	}
	close(mb)
}
