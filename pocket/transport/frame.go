// Package transport implements the engine-level plumbing shared by every
// protocol module: the reference-counted Frame wrapper and Socket.IO v4 /
// Engine.IO v3 codec, the stateful Rule/Router dispatch, the Runner
// reconnection state machine, and the generic Module protocol. Nothing here
// is aware of PocketOption-specific wire events; that lives in the modules
// package one level up.
package transport

import (
	"fmt"
	"sync/atomic"
)

// FrameKind classifies a decoded Engine.IO/Socket.IO frame.
type FrameKind int

const (
	// FrameOpen is the Engine.IO "0{...sid...}" open handshake.
	FrameOpen FrameKind = iota
	// FramePing is the Engine.IO "2" ping.
	FramePing
	// FramePong is the Engine.IO "3" pong.
	FramePong
	// FrameNamespaceConnect is the Socket.IO "40..." namespace ack.
	FrameNamespaceConnect
	// FrameNamespaceDisconnect is the Socket.IO "41" namespace disconnect.
	FrameNamespaceDisconnect
	// FrameEvent is an inline "42[\"event\",...]" Socket.IO event.
	FrameEvent
	// FrameBinaryEventHeader is the text half of a two-step event:
	// "451-[\"event\",{\"_placeholder\":true,\"num\":0}]".
	FrameBinaryEventHeader
	// FrameBinary is a raw binary payload, the second half of a two-step event.
	FrameBinary
	// FrameUnknown is any frame this codec does not recognize; it is still
	// delivered to the router so that rules built on raw text may inspect it.
	FrameUnknown
)

// Frame is an atomically reference-counted, immutable decoded message. The
// router hands out additional references to every matching module's mailbox
// rather than copying the payload bytes (spec's fan-out design note).
type Frame struct {
	Kind FrameKind
	Text string
	Data []byte

	refs *int32
}

// NewFrame wraps raw bytes read from the socket into a Frame, classifying it
// by its Engine.IO/Socket.IO header.
func NewFrame(raw []byte, isBinary bool) *Frame {
	f := &Frame{refs: new(int32)}
	*f.refs = 1
	if isBinary {
		f.Kind = FrameBinary
		f.Data = raw
		return f
	}
	f.Text = string(raw)
	f.Kind = classify(f.Text)
	f.Data = raw
	return f
}

func classify(text string) FrameKind {
	switch {
	case len(text) > 0 && text[0] == '0':
		return FrameOpen
	case text == "2":
		return FramePing
	case text == "3":
		return FramePong
	case len(text) >= 2 && text[:2] == "40":
		return FrameNamespaceConnect
	case text == "41":
		return FrameNamespaceDisconnect
	case len(text) >= 4 && text[:4] == "451-":
		return FrameBinaryEventHeader
	case len(text) >= 2 && text[:2] == "42":
		return FrameEvent
	default:
		return FrameUnknown
	}
}

// Retain increments the reference count and returns a handle sharing the
// same underlying payload. Call Release once per Retain/NewFrame.
func (f *Frame) Retain() *Frame {
	atomic.AddInt32(f.refs, 1)
	return &Frame{Kind: f.Kind, Text: f.Text, Data: f.Data, refs: f.refs}
}

// Release decrements the reference count. The zero-copy payload ([]byte) is
// owned by the Go runtime's GC; Release exists to preserve the fan-out
// accounting contract (a matching teacher concern would be a pooled buffer
// release, which this codec does not need since frames are never recycled
// into a sync.Pool).
func (f *Frame) Release() int32 {
	return atomic.AddInt32(f.refs, -1)
}

// EventName extracts the Socket.IO event name from an inline "42[...]" or
// "451-[...]" frame, e.g. `42["successauth",{...}]` → "successauth".
func (f *Frame) EventName() (string, bool) {
	if f.Kind != FrameEvent && f.Kind != FrameBinaryEventHeader {
		return "", false
	}
	body := f.Text
	switch f.Kind {
	case FrameEvent:
		body = body[2:]
	case FrameBinaryEventHeader:
		idx := indexByte(body, '[')
		if idx < 0 {
			return "", false
		}
		body = body[idx:]
	}
	return parseLeadingJSONString(body)
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// parseLeadingJSONString extracts the first JSON string literal from a
// `["event", ...]`-shaped body without needing a full JSON parse.
func parseLeadingJSONString(body string) (string, bool) {
	i := 0
	for i < len(body) && body[i] != '"' {
		i++
	}
	if i >= len(body) {
		return "", false
	}
	i++
	start := i
	for i < len(body) && body[i] != '"' {
		if body[i] == '\\' {
			i++
		}
		i++
	}
	if i >= len(body) {
		return "", false
	}
	return body[start:i], true
}

// EncodeEvent renders an outbound inline Socket.IO event frame:
// 42["event", <jsonPayload>] (payload may be empty for zero-arg events).
func EncodeEvent(event string, jsonPayload string) []byte {
	if jsonPayload == "" {
		return []byte(fmt.Sprintf(`42["%s"]`, event))
	}
	return []byte(fmt.Sprintf(`42["%s",%s]`, event, jsonPayload))
}
