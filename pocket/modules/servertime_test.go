package modules

import (
	"testing"
	"time"

	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

func newServerTimeFixture(t *testing.T) (*ServerTimeModule, transport.Mailbox) {
	t.Helper()
	mb := transport.NewMailbox()
	m := NewServerTimeModule(newTestState(t), mb, nil)
	go m.Run()
	return m, mb
}

func TestServerTimeModuleUpdatesFromStreamTick(t *testing.T) {
	m, mb := newServerTimeFixture(t)

	deliverText(mb, `42["updateStream",[["EURUSD_otc",1753900000,1.2345]]]`)
	time.Sleep(20 * time.Millisecond)

	if got := m.state.GetServerTime(); got != 1753900000 {
		t.Fatalf("unexpected server time: %d", got)
	}
	close(mb)
}

func TestServerTimeModuleIgnoresUnrelatedFrames(t *testing.T) {
	m, mb := newServerTimeFixture(t)

	deliverText(mb, `42["successupdateBalance",{"balance":10}]`)
	time.Sleep(20 * time.Millisecond)

	if got := m.state.GetServerTime(); got != 0 {
		t.Fatalf("expected server time to remain unset, got %d", got)
	}
	close(mb)
}
