package pocket

import "sync"

// Middleware observes the Runner's reader/writer hot paths and connection
// lifecycle (spec §4.11). Every method is invoked synchronously, so
// implementations must be non-blocking — the same discipline the teacher's
// RegisterCallbackHandler closures follow (saxo_websocket.go processOneMessage
// dispatches to them inline, never spawning a goroutine per callback).
type Middleware interface {
	OnSend(frame []byte)
	OnReceive(frame []byte)
	OnConnect()
	OnDisconnect(reason error)
	OnAttempt(attempt int)
}

// MiddlewareStack fans lifecycle events out to an ordered list of
// Middleware observers, used by the testing wrapper to collect statistics
// (frames per second, reconnect counts, durations) and by user-facing
// logging (spec §4.11).
type MiddlewareStack struct {
	mu    sync.RWMutex
	stack []Middleware
}

func NewMiddlewareStack() *MiddlewareStack { return &MiddlewareStack{} }

func (m *MiddlewareStack) Use(mw Middleware) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stack = append(m.stack, mw)
}

func (m *MiddlewareStack) snapshot() []Middleware {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Middleware, len(m.stack))
	copy(out, m.stack)
	return out
}

func (m *MiddlewareStack) OnSend(frame []byte) {
	for _, mw := range m.snapshot() {
		mw.OnSend(frame)
	}
}

func (m *MiddlewareStack) OnReceive(frame []byte) {
	for _, mw := range m.snapshot() {
		mw.OnReceive(frame)
	}
}

func (m *MiddlewareStack) OnConnect() {
	for _, mw := range m.snapshot() {
		mw.OnConnect()
	}
}

func (m *MiddlewareStack) OnDisconnect(reason error) {
	for _, mw := range m.snapshot() {
		mw.OnDisconnect(reason)
	}
}

func (m *MiddlewareStack) OnAttempt(attempt int) {
	for _, mw := range m.snapshot() {
		mw.OnAttempt(attempt)
	}
}

// StatsMiddleware is the testing-wrapper observer (spec §4.11): it counts
// frames sent/received and reconnection attempts without touching the wire
// format, giving tests a cheap way to assert traffic shape.
type StatsMiddleware struct {
	mu          sync.Mutex
	FramesSent  int
	FramesRecv  int
	Connects    int
	Disconnects int
	Attempts    int
}

func NewStatsMiddleware() *StatsMiddleware { return &StatsMiddleware{} }

func (s *StatsMiddleware) OnSend(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FramesSent++
}

func (s *StatsMiddleware) OnReceive(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FramesRecv++
}

func (s *StatsMiddleware) OnConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Connects++
}

func (s *StatsMiddleware) OnDisconnect(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Disconnects++
}

func (s *StatsMiddleware) OnAttempt(attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attempts++
}
