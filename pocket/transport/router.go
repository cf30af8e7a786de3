package transport

import (
	"sync"

	"go.uber.org/zap"
)

// Mailbox is the inbound side of a module: a bounded channel the Router
// delivers matching frames to. Capacity mirrors spec §5's bounded-channel
// guidance (64-128) so a slow module applies backpressure rather than
// unbounded memory growth.
type Mailbox chan *Frame

const mailboxCapacity = 128

// NewMailbox allocates a Mailbox at the spec's standard capacity.
func NewMailbox() Mailbox { return make(Mailbox, mailboxCapacity) }

// route is one (rule, mailbox) pairing in a routing table.
type route struct {
	name    string
	rule    Rule
	mailbox Mailbox
}

// Router holds three parallel routing tables exactly as spec.md §4.2
// describes: lightweight handlers (inline synchronous callbacks, mirroring
// the teacher's RegisterCallbackHandler dispatch in saxo_websocket.go), a
// lightweight-module table (buffered mailbox, but no command/response
// channel), and a full module table (buffered mailbox + the module owns a
// command/response channel elsewhere). The Router itself only knows how to
// match and fan out; it does not know what a "module" is.
type Router struct {
	mu sync.RWMutex

	lightweightHandlers []lightweightHandlerRoute
	lightweightModules  []route
	modules             []route

	closed bool
	log    *zap.SugaredLogger
}

type lightweightHandlerRoute struct {
	name string
	rule Rule
	fn   func(*Frame)
}

// NewRouter builds an empty Router.
func NewRouter(log *zap.SugaredLogger) *Router {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Router{log: log}
}

// RegisterHandler adds an inline synchronous handler invoked on the reader
// goroutine itself — used for ultra-cheap reactions like a keep-alive pong
// that must never be delayed behind a mailbox.
func (r *Router) RegisterHandler(name string, rule Rule, fn func(*Frame)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lightweightHandlers = append(r.lightweightHandlers, lightweightHandlerRoute{name: name, rule: rule, fn: fn})
}

// RegisterLightweightModule registers a mailbox-backed route for a module
// that only consumes frames (balance/assets/server-time updaters) and never
// needs a command channel.
func (r *Router) RegisterLightweightModule(name string, rule Rule) Mailbox {
	mb := NewMailbox()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lightweightModules = append(r.lightweightModules, route{name: name, rule: rule, mailbox: mb})
	return mb
}

// RegisterModule registers a mailbox-backed route for a full request/response
// module (trades, deals, subscriptions, historical candles).
func (r *Router) RegisterModule(name string, rule Rule) Mailbox {
	mb := NewMailbox()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = append(r.modules, route{name: name, rule: rule, mailbox: mb})
	return mb
}

// Reset clears every registered rule's multi-frame state. Called by the
// Runner on every Connecting transition: a two-step sequence half-observed
// on the dead connection must not bleed into the new one.
func (r *Router) Reset() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.lightweightHandlers {
		h.rule.reset()
	}
	for _, m := range r.lightweightModules {
		m.rule.reset()
	}
	for _, m := range r.modules {
		m.rule.reset()
	}
}

// Dispatch matches frame against every registered rule and delivers it to
// every match (fan-out, not first-match-wins — spec §4.2 allows a single
// frame to satisfy both a lightweight handler and a module, e.g. server-time
// extraction piggybacking on the same updateStream frame subscriptions
// consume). Lightweight handlers run synchronously and first; mailbox
// deliveries are non-blocking sends, with a dropped frame logged at Warn
// (mirrors the teacher's "channel full, dropping update" pattern).
func (r *Router) Dispatch(f *Frame) {
	r.mu.RLock()
	handlers := append([]lightweightHandlerRoute(nil), r.lightweightHandlers...)
	lwModules := append([]route(nil), r.lightweightModules...)
	modules := append([]route(nil), r.modules...)
	r.mu.RUnlock()

	for _, h := range handlers {
		if h.rule.Matches(f) {
			h.fn(f)
		}
	}
	for _, m := range lwModules {
		if m.rule.Matches(f) {
			r.deliver(m.name, m.mailbox, f)
		}
	}
	for _, m := range modules {
		if m.rule.Matches(f) {
			r.deliver(m.name, m.mailbox, f)
		}
	}
}

// Close closes every registered module mailbox, which is every module's
// signal to return from its Run loop (Module's doc contract). Callers must
// wait for the Runner to fully stop dispatching (its Done channel) before
// calling Close, since sending on a closed mailbox panics. Idempotent.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, m := range r.lightweightModules {
		close(m.mailbox)
	}
	for _, m := range r.modules {
		close(m.mailbox)
	}
}

func (r *Router) deliver(name string, mb Mailbox, f *Frame) {
	frame := f.Retain()
	select {
	case mb <- frame:
	default:
		frame.Release()
		r.log.Warnw("mailbox full, dropping frame", "module", name)
	}
}
