package transport

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chipadevteam/pocketoption-go/pocket"
)

// connectFn dials a fresh connection; satisfied by (*Connector).Connect.
// Kept as a function type so tests can drive the Runner without a real
// socket.
type connectFn func(ctx context.Context) (Conn, string, error)

// initFn runs the session handshake (spec §4.3) against a freshly dialed
// connection and reports whether it completed successfully before the
// Runner marks the connection Connected. It owns reading/writing during the
// handshake window only; afterward the Runner's own reader/writer loops take
// over.
type initFn func(ctx context.Context, conn Conn, send func([]byte) error) error

// maxBackoff is the ceiling on reconnect delay before jitter is applied, so
// the final delay can reach 1.2x this value (spec §4.2).
const maxBackoff = 300 * time.Second

// backoffDelay implements spec.md §4.2's formula:
// delay = min(base * 2^min(n,10), 300s) * uniform[0.8, 1.2).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	capped := attempt
	if capped > 10 {
		capped = 10
	}
	scaled := float64(base) * math.Pow(2, float64(capped))
	if scaled > float64(maxBackoff) {
		scaled = float64(maxBackoff)
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(scaled * jitter)
}

// Runner drives one logical session through its reconnection lifecycle:
// Connecting → Connected → Draining → Disconnected → (Connecting|Terminated).
// It owns the live Conn, the Router dispatch, and the fan-out to every
// registered Module's mailbox (spec §4.2).
type Runner struct {
	cfg      pocket.Config
	signals  *pocket.Signals
	router   *Router
	connect  connectFn
	initFn   initFn
	log      *zap.SugaredLogger

	mu    sync.Mutex
	state pocket.ConnectionState
	conn  Conn

	writeCh chan []byte
	stop    chan struct{}
	done    chan struct{}

	onReconnect []func()

	attempt int
}

// NewRunner builds a Runner. connect dials a new connection; init performs
// the handshake that must complete before the state transitions to
// Connected.
func NewRunner(cfg pocket.Config, signals *pocket.Signals, router *Router, connect connectFn, init initFn, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{
		cfg:     cfg,
		signals: signals,
		router:  router,
		connect: connect,
		initFn:  init,
		log:     log,
		state:   pocket.StateConnecting,
		writeCh: make(chan []byte, 128),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnReconnect registers a callback invoked after every successful
// reconnection (including the very first connect), used by modules whose
// OnReconnect hook needs to run once the Runner has a live socket again
// (spec §9).
func (r *Runner) OnReconnect(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReconnect = append(r.onReconnect, fn)
}

// State returns the current connection state.
func (r *Runner) State() pocket.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s pocket.ConnectionState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.signals.Publish(s)
}

// Send queues a frame for the writer loop. Returns a CoreError if the Runner
// has already terminated.
func (r *Runner) Send(data []byte) error {
	select {
	case r.writeCh <- data:
		return nil
	case <-r.done:
		return pocket.NewCoreError(pocket.CoreChannelSend, "runner terminated", nil)
	}
}

// Run drives the reconnection loop until ctx is cancelled or Shutdown is
// called. It blocks the calling goroutine; callers normally invoke it via
// `go runner.Run(ctx)`.
func (r *Runner) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.setState(pocket.StateTerminated)
			return
		case <-r.stop:
			r.setState(pocket.StateTerminated)
			return
		default:
		}

		r.setState(pocket.StateConnecting)
		r.router.Reset()

		conn, err := r.dialAndInit(ctx)
		if err != nil {
			r.log.Warnw("connection attempt failed", "error", err, "attempt", r.attempt)
			if r.cfg.MaxAllowedLoops > 0 && r.attempt >= r.cfg.MaxAllowedLoops {
				r.setState(pocket.StateTerminated)
				return
			}
			delay := backoffDelay(r.cfg.ReconnectTime, r.attempt)
			r.attempt++
			select {
			case <-ctx.Done():
				r.setState(pocket.StateTerminated)
				return
			case <-r.stop:
				r.setState(pocket.StateTerminated)
				return
			case <-time.After(delay):
			}
			continue
		}

		r.attempt = 0
		r.mu.Lock()
		r.conn = conn
		r.mu.Unlock()
		r.setState(pocket.StateConnected)
		r.fireReconnectHooks()

		r.runConnection(ctx, conn)

		// runConnection returns once the connection drops (error, close
		// frame, or explicit Disconnect). Draining was already published by
		// whichever path triggered the exit.
		select {
		case <-ctx.Done():
			r.setState(pocket.StateTerminated)
			return
		case <-r.stop:
			r.setState(pocket.StateTerminated)
			return
		default:
		}
		r.setState(pocket.StateDisconnected)
	}
}

func (r *Runner) fireReconnectHooks() {
	r.mu.Lock()
	hooks := append([]func(){}, r.onReconnect...)
	r.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

func (r *Runner) dialAndInit(ctx context.Context) (Conn, error) {
	dialCtx := ctx
	if r.cfg.ConnectionInitializationTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, r.cfg.ConnectionInitializationTimeout)
		defer cancel()
	}
	conn, _, err := r.connect(dialCtx)
	if err != nil {
		return nil, err
	}
	if r.initFn != nil {
		send := func(data []byte) error { return conn.WriteMessage(1, data) }
		if err := r.initFn(dialCtx, conn, send); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// runConnection spawns the reader and writer goroutines for one live
// connection and blocks until either drops it (mirrors the teacher's
// readMessages/processMessages split, collapsed here into reader+writer
// since Dispatch is synchronous and cheap — no separate processor stage is
// needed).
func (r *Runner) runConnection(ctx context.Context, conn Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r.readLoop(connCtx, conn, cancel)
	}()
	go func() {
		defer wg.Done()
		r.writeLoop(connCtx, conn)
	}()

	wg.Wait()
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	conn.Close()
}

// readLoop's msgType/write constants follow gorilla/websocket's
// TextMessage=1/BinaryMessage=2 convention, kept as bare ints here so Conn
// stays a minimal interface tests can fake without importing gorilla.
func (r *Runner) readLoop(ctx context.Context, conn Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			r.log.Warnw("read error, draining connection", "error", err)
			r.setState(pocket.StateDraining)
			return
		}
		frame := NewFrame(data, msgType == 2)
		if frame.Kind == FramePing {
			if werr := conn.WriteMessage(1, []byte("3")); werr != nil {
				r.log.Warnw("failed to answer ping", "error", werr)
			}
		}
		r.router.Dispatch(frame)
		frame.Release()
	}
}

func (r *Runner) writeLoop(ctx context.Context, conn Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-r.writeCh:
			if err := conn.WriteMessage(1, data); err != nil {
				r.log.Warnw("write error, draining connection", "error", err)
				return
			}
		}
	}
}

// Disconnect explicitly tears down the current connection, resulting in a
// Draining→Disconnected→Connecting cycle (a deliberate reconnect) rather
// than terminating the Runner. Per spec §4.2, this is also the trigger for
// clearing temporal shared state, which the caller (Client facade) performs
// before invoking Disconnect.
func (r *Runner) Disconnect() {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		r.setState(pocket.StateDraining)
		conn.Close()
	}
}

// Shutdown stops the Runner permanently; Run returns once the current
// connection (if any) has drained.
func (r *Runner) Shutdown() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Done is closed once Run has returned.
func (r *Runner) Done() <-chan struct{} { return r.done }
