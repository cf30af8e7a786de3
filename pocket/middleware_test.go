package pocket

import "testing"

func TestMiddlewareStackFansOutToStats(t *testing.T) {
	stack := NewMiddlewareStack()
	a := NewStatsMiddleware()
	b := NewStatsMiddleware()
	stack.Use(a)
	stack.Use(b)

	stack.OnConnect()
	stack.OnSend([]byte(`42["ps"]`))
	stack.OnReceive([]byte(`3`))
	stack.OnAttempt(1)
	stack.OnDisconnect(nil)

	for _, s := range []*StatsMiddleware{a, b} {
		if s.Connects != 1 || s.FramesSent != 1 || s.FramesRecv != 1 || s.Attempts != 1 || s.Disconnects != 1 {
			t.Errorf("unexpected stats: %+v", s)
		}
	}
}
