package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chipadevteam/pocketoption-go/pocket"
)

// fakeConn is a minimal in-memory Conn for Runner tests: writes loop back
// into a channel readable by the test, reads are served from a queue.
type fakeConn struct {
	mu       sync.Mutex
	inbound  [][]byte
	closed   bool
	writes   chan []byte
	readErr  error
}

func newFakeConn() *fakeConn {
	return &fakeConn{writes: make(chan []byte, 32)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return 0, nil, errors.New("fake conn closed")
		}
		if c.readErr != nil && len(c.inbound) == 0 {
			err := c.readErr
			c.mu.Unlock()
			return 0, nil, err
		}
		if len(c.inbound) > 0 {
			msg := c.inbound[0]
			c.inbound = c.inbound[1:]
			c.mu.Unlock()
			return 1, msg, nil
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case c.writes <- append([]byte(nil), data...):
	default:
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) pushInbound(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = append(c.inbound, msg)
}

func (c *fakeConn) failReads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

func TestBackoffDelayMonotonicAndCapped(t *testing.T) {
	base := 1 * time.Second
	for attempt := 0; attempt < 5; attempt++ {
		d := backoffDelay(base, attempt)
		if d < time.Duration(float64(base)*math2Pow(attempt)*0.75) {
			t.Fatalf("attempt %d: delay %v looks too small", attempt, d)
		}
	}
	d := backoffDelay(base, 30)
	if d > time.Duration(float64(maxBackoff)*1.2) {
		t.Fatalf("expected backoff to be capped at 300s plus at most 20%% jitter, got %v", d)
	}
}

func math2Pow(n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= 2
	}
	return r
}

func TestRunnerConnectsAndDispatchesFrames(t *testing.T) {
	conn := newFakeConn()
	router := NewRouter(nil)
	mb := router.RegisterModule("assets", NewEventRule("updateAssets"))

	connect := func(ctx context.Context) (Conn, string, error) {
		return conn, "wss://fake", nil
	}

	cfg := pocket.DefaultConfig()
	signals := pocket.NewSignals()
	states := signals.Subscribe()

	runner := NewRunner(cfg, signals, router, connect, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	waitForState(t, states, pocket.StateConnected)

	conn.pushInbound([]byte(`42["updateAssets",[]]`))

	select {
	case f := <-mb:
		if f.Kind != FrameEvent {
			t.Fatalf("unexpected frame: %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dispatched frame")
	}

	runner.Shutdown()
	select {
	case <-runner.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not shut down")
	}
}

func TestRunnerReconnectsAfterReadError(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	attempts := 0

	connect := func(ctx context.Context) (Conn, string, error) {
		attempts++
		if attempts == 1 {
			return first, "wss://fake-1", nil
		}
		return second, "wss://fake-2", nil
	}

	cfg := pocket.DefaultConfig()
	cfg.ReconnectTime = 10 * time.Millisecond
	signals := pocket.NewSignals()
	states := signals.Subscribe()
	router := NewRouter(nil)

	runner := NewRunner(cfg, signals, router, connect, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	waitForState(t, states, pocket.StateConnected)
	first.failReads(errors.New("boom"))

	waitForState(t, states, pocket.StateConnected) // second connect after reconnect cycle

	if attempts < 2 {
		t.Fatalf("expected runner to dial at least twice, got %d", attempts)
	}
	runner.Shutdown()
}

func waitForState(t *testing.T, states <-chan pocket.ConnectionState, want pocket.ConnectionState) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}
