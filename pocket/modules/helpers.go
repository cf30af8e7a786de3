package modules

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/chipadevteam/pocketoption-go/pocket"
)

// mailboxRequestCapacity bounds the internal command channel every
// request/response module uses to receive calls from its facade-facing
// handle, mirroring the mailbox capacity used on the inbound side.
const mailboxRequestCapacity = 32

// framePayload extracts the second element of a Socket.IO event frame's
// JSON array, skipping a fixed-length wire prefix (2 for inline "42", 4 for
// two-step "451-" headers).
func framePayload(text string, prefixLen int) (string, bool) {
	if len(text) < prefixLen {
		return "", false
	}
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(text[prefixLen:]), &parts); err != nil {
		return "", false
	}
	if len(parts) < 2 {
		return "", false
	}
	return string(parts[1]), true
}

// eventPayload extracts the second element of an inline Socket.IO event
// frame's JSON array, e.g. `42["event",{"foo":1}]` -> `{"foo":1}`. Returns
// false if text isn't an inline event frame carrying at least one argument.
func eventPayload(text string) (string, bool) {
	return framePayload(text, 2)
}

// twoStepHeaderPayload extracts the second element of a two-step event
// header's JSON array, e.g. `451-["event",{"_placeholder":true,"num":0}]` ->
// `{"_placeholder":true,"num":0}`.
func twoStepHeaderPayload(text string) (string, bool) {
	return framePayload(text, 4)
}

// isPlaceholderPayload reports whether a two-step header's payload is the
// binary-placeholder sentinel (meaning the real data follows as a separate
// binary frame) rather than data embedded directly in the header.
func isPlaceholderPayload(payload string) bool {
	return strings.Contains(payload, `"_placeholder"`) && strings.Contains(payload, "true")
}

// baseCandleToCandle converts a wire BaseCandle into a finalized Candle,
// since pocket's own conversion is unexported.
func baseCandleToCandle(b pocket.BaseCandle, symbol string) pocket.Candle {
	var volume *decimal.Decimal
	if b.Volume != nil {
		v := decimal.NewFromFloat(*b.Volume)
		volume = &v
	}
	return pocket.Candle{
		Symbol:    symbol,
		Timestamp: b.Timestamp,
		Open:      decimal.NewFromFloat(b.Open),
		High:      decimal.NewFromFloat(b.High),
		Low:       decimal.NewFromFloat(b.Low),
		Close:     decimal.NewFromFloat(b.Close),
		Volume:    volume,
	}
}
