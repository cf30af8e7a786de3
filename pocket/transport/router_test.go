package transport

import "testing"

func TestEventRuleMatches(t *testing.T) {
	r := NewEventRule("successauth", "failauth")
	f := NewFrame([]byte(`42["successauth",{"isDemo":1}]`), false)
	if !r.Matches(f) {
		t.Fatalf("expected event rule to match successauth")
	}
	other := NewFrame([]byte(`42["updateAssets",[]]`), false)
	if r.Matches(other) {
		t.Fatalf("event rule should not match unrelated event")
	}
}

func TestKindRuleMatches(t *testing.T) {
	r := NewKindRule(FramePing)
	if !r.Matches(NewFrame([]byte("2"), false)) {
		t.Fatalf("expected ping frame to match")
	}
	if r.Matches(NewFrame([]byte("3"), false)) {
		t.Fatalf("pong frame should not match ping rule")
	}
}

func TestTwoStepEventRuleRequiresHeaderThenBinary(t *testing.T) {
	r := NewTwoStepEventRule("updateOpenedDeals")
	header := NewFrame([]byte(`451-["updateOpenedDeals",{"_placeholder":true,"num":0}]`), false)
	if r.Matches(header) {
		t.Fatalf("header frame alone must not match")
	}
	binary := NewFrame([]byte(`[{"id":"x"}]`), true)
	if !r.Matches(binary) {
		t.Fatalf("binary frame immediately after a matching header must match")
	}

	// A binary frame with no preceding header must not match.
	r.reset()
	if r.Matches(binary) {
		t.Fatalf("binary frame without a preceding header must not match")
	}

	// A header for a different event must not arm the rule.
	otherHeader := NewFrame([]byte(`451-["updateClosedDeals",{"_placeholder":true,"num":0}]`), false)
	r.Matches(otherHeader)
	if r.Matches(binary) {
		t.Fatalf("binary following a non-matching header must not match")
	}
}

func TestOrRuleMatchesEitherInlineOrTwoStep(t *testing.T) {
	r := NewOrRule(NewEventRule("successopenOrder"), NewTwoStepEventRule("successopenOrder"))

	inline := NewFrame([]byte(`42["successopenOrder",{"id":"x"}]`), false)
	if !r.Matches(inline) {
		t.Fatalf("expected inline event to match via OrRule")
	}

	header := NewFrame([]byte(`451-["successopenOrder",{"_placeholder":true,"num":0}]`), false)
	binary := NewFrame([]byte(`{"id":"y"}`), true)
	// The inline EventRule also matches the 451- header (EventName reads both
	// kinds), so modules behind an OrRule see the header and then the binary.
	if !r.Matches(header) {
		t.Fatalf("expected header to match via the inline EventRule")
	}
	if !r.Matches(binary) {
		t.Fatalf("expected binary following a matching header to match via OrRule")
	}
}

func TestRouterDispatchDeliversToHandlerAndModule(t *testing.T) {
	router := NewRouter(nil)

	var handled int
	router.RegisterHandler("pong-handler", NewKindRule(FramePing), func(*Frame) { handled++ })
	mb := router.RegisterModule("assets", NewEventRule("updateAssets"))

	router.Dispatch(NewFrame([]byte("2"), false))
	if handled != 1 {
		t.Fatalf("expected lightweight handler to fire once, got %d", handled)
	}

	router.Dispatch(NewFrame([]byte(`42["updateAssets",[]]`), false))
	select {
	case f := <-mb:
		if f.Kind != FrameEvent {
			t.Fatalf("unexpected frame kind delivered: %v", f.Kind)
		}
	default:
		t.Fatalf("expected module mailbox to receive the matching frame")
	}
}

func TestRouterResetClearsStatefulRules(t *testing.T) {
	router := NewRouter(nil)
	mb := router.RegisterModule("deals", NewTwoStepEventRule("updateOpenedDeals"))

	router.Dispatch(NewFrame([]byte(`451-["updateOpenedDeals",{"_placeholder":true,"num":0}]`), false))
	router.Reset()
	router.Dispatch(NewFrame([]byte(`[{"id":"x"}]`), true))

	select {
	case <-mb:
		t.Fatalf("Reset should have cleared the armed two-step rule")
	default:
	}
}
