package modules

import (
	"testing"
	"time"

	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

func newAssetsFixture(t *testing.T) (*AssetsModule, transport.Mailbox) {
	t.Helper()
	mb := transport.NewMailbox()
	m := NewAssetsModule(newTestState(t), mb, nil)
	go m.Run()
	return m, mb
}

func TestAssetsModuleAppliesUpdateAssets(t *testing.T) {
	m, mb := newAssetsFixture(t)

	asset := `[5,"AAPL","Apple","stock",2,50,60,30,3,0,170,0,[],1751906100,false,[{"time":60}],-1,60,1751906100]`
	deliverText(mb, `42["updateAssets",[`+asset+`]]`)
	time.Sleep(20 * time.Millisecond)

	assets, ok := m.state.GetAssets()
	if !ok {
		t.Fatalf("expected assets to be set")
	}
	if _, ok := assets.Get("AAPL"); !ok {
		t.Fatalf("expected AAPL to be present in the asset table")
	}
	close(mb)
}
