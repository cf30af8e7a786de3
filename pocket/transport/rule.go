package transport

// Rule decides whether a Frame belongs to a particular module. Most rules
// are stateless (match on event name), but some protocol sequences span two
// frames — a text event header immediately followed by a raw binary payload
// (spec §6's two-step "451-[...]" + binary form) — so Rule carries explicit
// state via reset(), mirroring the teacher's ParsedMessage.IsControlMessage
// dispatch generalized into a registrable predicate.
type Rule interface {
	// Matches reports whether frame belongs to this rule's module. Matches
	// may be called many times across the lifetime of a connection; a
	// stateful rule (e.g. "the frame right after a 451- header") updates its
	// own internal state as a side effect.
	Matches(f *Frame) bool

	// reset clears any in-progress multi-frame state, called by the router
	// whenever the underlying connection is replaced (Draining/Connecting
	// transition), since a half-matched sequence cannot span a reconnect.
	reset()
}

// EventRule matches a Frame carrying one of a fixed set of Socket.IO event
// names, e.g. "successauth" or "updateAssets".
type EventRule struct {
	events map[string]struct{}
}

// NewEventRule builds a Rule matching any of the given event names.
func NewEventRule(events ...string) *EventRule {
	m := make(map[string]struct{}, len(events))
	for _, e := range events {
		m[e] = struct{}{}
	}
	return &EventRule{events: m}
}

func (r *EventRule) Matches(f *Frame) bool {
	name, ok := f.EventName()
	if !ok {
		return false
	}
	_, matched := r.events[name]
	return matched
}

func (r *EventRule) reset() {}

// KindRule matches a Frame purely by its engine-level FrameKind, used for
// control frames like FramePing/FramePong/FrameOpen that have no event name.
type KindRule struct {
	kind FrameKind
}

// NewKindRule builds a Rule matching a single FrameKind.
func NewKindRule(kind FrameKind) *KindRule { return &KindRule{kind: kind} }

func (r *KindRule) Matches(f *Frame) bool { return f.Kind == r.kind }
func (r *KindRule) reset()                {}

// TwoStepEventRule matches the two-frame "451-[\"event\",{placeholder}]"
// header followed by the raw binary payload that completes it (spec §6).
// The header frame itself never matches; the very next frame does, provided
// it is binary.
type TwoStepEventRule struct {
	events  map[string]struct{}
	pending bool
}

// NewTwoStepEventRule builds a Rule matching the binary half of a two-step
// event sequence for any of the given event names.
func NewTwoStepEventRule(events ...string) *TwoStepEventRule {
	m := make(map[string]struct{}, len(events))
	for _, e := range events {
		m[e] = struct{}{}
	}
	return &TwoStepEventRule{events: m}
}

func (r *TwoStepEventRule) Matches(f *Frame) bool {
	if f.Kind == FrameBinaryEventHeader {
		name, ok := f.EventName()
		if !ok {
			r.pending = false
			return false
		}
		_, want := r.events[name]
		r.pending = want
		return false
	}
	if f.Kind == FrameBinary && r.pending {
		r.pending = false
		return true
	}
	r.pending = false
	return false
}

func (r *TwoStepEventRule) reset() { r.pending = false }

// AnyRule matches any frame; typically used for a catch-all lightweight
// handler (e.g. a debug sink) registered last in a routing table.
type AnyRule struct{}

func NewAnyRule() AnyRule            { return AnyRule{} }
func (AnyRule) Matches(*Frame) bool { return true }
func (AnyRule) reset()              {}

// OrRule matches if any of its sub-rules match, evaluating every sub-rule
// (not short-circuiting) so stateful rules like TwoStepEventRule still see
// every frame and keep their pending flag accurate. Used when a protocol
// event can arrive either inline ("42[...]") or as a two-step binary payload
// (spec §6), e.g. successopenOrder/failopenOrder.
type OrRule struct {
	rules []Rule
}

// NewOrRule builds a Rule matching if any sub-rule matches.
func NewOrRule(rules ...Rule) *OrRule { return &OrRule{rules: rules} }

func (r *OrRule) Matches(f *Frame) bool {
	matched := false
	for _, sub := range r.rules {
		if sub.Matches(f) {
			matched = true
		}
	}
	return matched
}

func (r *OrRule) reset() {
	for _, sub := range r.rules {
		sub.reset()
	}
}
