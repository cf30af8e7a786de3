package pocket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SessionData is the decoded inner session blob carried by Real accounts (spec §3).
// On the wire it is PHP serialize()-encoded: a:4:{s:10:"session_id";s:32:"...";
// s:10:"ip_address";s:7:"0.0.0.0";s:10:"user_agent";s:...:"...";s:13:"last_activity";i:...;}
// optionally suffixed with a 32-byte digest.
type SessionData struct {
	SessionID    string
	IPAddress    string
	UserAgent    string
	LastActivity uint64
}

// String redacts session_id and ip_address, per spec §3's debug-formatting requirement.
func (s SessionData) String() string {
	return fmt.Sprintf("SessionData{session_id: REDACTED, ip_address: REDACTED, user_agent: %q, last_activity: %d}",
		s.UserAgent, s.LastActivity)
}

// decodePHPSession decodes the one fixed shape the broker emits. It is not a
// general PHP unserializer: the pack carries no such dependency, and the wire
// format never varies from this four-field associative array.
func decodePHPSession(raw string) (SessionData, error) {
	p := &phpScanner{s: raw}
	fields, err := p.readAssocArray()
	if err != nil {
		return SessionData{}, err
	}
	if p.pos != len(p.s) {
		return SessionData{}, fmt.Errorf("php session: unexpected trailing data after array")
	}
	var sd SessionData
	if v, ok := fields["session_id"]; ok {
		sd.SessionID = v
	}
	if v, ok := fields["ip_address"]; ok {
		sd.IPAddress = v
	}
	if v, ok := fields["user_agent"]; ok {
		sd.UserAgent = v
	}
	if v, ok := fields["last_activity"]; ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return SessionData{}, fmt.Errorf("last_activity: %w", err)
		}
		sd.LastActivity = n
	}
	if sd.SessionID == "" && sd.IPAddress == "" && sd.UserAgent == "" {
		return SessionData{}, fmt.Errorf("php session: no recognized fields in %q", raw)
	}
	return sd, nil
}

// phpScanner is a minimal recursive-descent reader for PHP serialize() output,
// scoped to the string/int scalar associative-array shape SessionData needs.
type phpScanner struct {
	s   string
	pos int
}

func (p *phpScanner) readAssocArray() (map[string]string, error) {
	if !strings.HasPrefix(p.s[p.pos:], "a:") {
		return nil, fmt.Errorf("php session: expected array, got %q", p.s[p.pos:min(p.pos+16, len(p.s))])
	}
	p.pos += 2
	count, err := p.readUntil(':')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(count)
	if err != nil {
		return nil, fmt.Errorf("php session: bad array count: %w", err)
	}
	if p.pos >= len(p.s) || p.s[p.pos] != '{' {
		return nil, fmt.Errorf("php session: expected '{'")
	}
	p.pos++
	out := make(map[string]string, n)
	for i := 0; i < n; i++ {
		key, err := p.readScalar()
		if err != nil {
			return nil, fmt.Errorf("php session: key %d: %w", i, err)
		}
		val, err := p.readScalar()
		if err != nil {
			return nil, fmt.Errorf("php session: value for %q: %w", key, err)
		}
		out[key] = val
	}
	if p.pos < len(p.s) && p.s[p.pos] == '}' {
		p.pos++
	}
	return out, nil
}

func (p *phpScanner) readScalar() (string, error) {
	if p.pos >= len(p.s) {
		return "", fmt.Errorf("unexpected end of input")
	}
	switch p.s[p.pos] {
	case 's':
		p.pos += 2 // "s:"
		lenStr, err := p.readUntil(':')
		if err != nil {
			return "", err
		}
		l, err := strconv.Atoi(lenStr)
		if err != nil {
			return "", fmt.Errorf("bad string length: %w", err)
		}
		if p.pos >= len(p.s) || p.s[p.pos] != '"' {
			return "", fmt.Errorf("expected opening quote")
		}
		p.pos++
		if p.pos+l > len(p.s) {
			return "", fmt.Errorf("string length exceeds input")
		}
		val := p.s[p.pos : p.pos+l]
		p.pos += l
		if p.pos < len(p.s) && p.s[p.pos] == '"' {
			p.pos++
		}
		if p.pos < len(p.s) && p.s[p.pos] == ';' {
			p.pos++
		}
		return val, nil
	case 'i':
		p.pos += 2 // "i:"
		numStr, err := p.readUntil(';')
		if err != nil {
			return "", err
		}
		return numStr, nil
	default:
		return "", fmt.Errorf("unsupported scalar type %q", p.s[p.pos])
	}
}

func (p *phpScanner) readUntil(delim byte) (string, error) {
	start := p.pos
	for p.pos < len(p.s) && p.s[p.pos] != delim {
		p.pos++
	}
	if p.pos >= len(p.s) {
		return "", fmt.Errorf("delimiter %q not found", delim)
	}
	out := p.s[start:p.pos]
	p.pos++
	return out, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Demo is the Demo-account SSID variant (spec §3).
type Demo struct {
	Session       string `json:"session"`
	IsDemo        int    `json:"isDemo"`
	UID           uint32 `json:"uid"`
	Platform      int    `json:"platform"`
	CurrentURL    string `json:"currentUrl,omitempty"`
	IsFastHistory *bool  `json:"isFastHistory,omitempty"`
	IsOptimized   *bool  `json:"isOptimized,omitempty"`
	Extra         map[string]json.RawMessage `json:"-"`

	raw     string
	jsonRaw string
}

func (d Demo) String() string {
	return fmt.Sprintf("Demo{session: REDACTED, is_demo: %d, uid: %d, platform: %d}", d.IsDemo, d.UID, d.Platform)
}

// Real is the Real-account SSID variant (spec §3).
type Real struct {
	Session       SessionData
	SessionRaw    string
	IsDemo        int
	UID           uint32
	Platform      int
	IsFastHistory *bool
	IsOptimized   *bool
	Extra         map[string]json.RawMessage

	raw     string
	jsonRaw string
}

func (r Real) String() string {
	return fmt.Sprintf("Real{session: %s, session_raw: REDACTED, is_demo: %d, uid: %d, platform: %d}",
		r.Session, r.IsDemo, r.UID, r.Platform)
}

// Ssid is the tagged {Demo, Real} credential variant (spec §3).
type Ssid struct {
	demo *Demo
	real *Real
}

func (s Ssid) IsDemo() bool { return s.demo != nil }

func (s Ssid) String() string {
	if s.demo != nil {
		if s.demo.raw != "" {
			return s.demo.raw
		}
		b, _ := json.Marshal(s.demo)
		return fmt.Sprintf(`42["auth",%s]`, b)
	}
	if s.real != nil {
		return s.real.raw
	}
	return ""
}

func (s Ssid) GoString() string {
	if s.demo != nil {
		return "Ssid(Demo(" + s.demo.String() + "))"
	}
	if s.real != nil {
		return "Ssid(Real(" + s.real.String() + "))"
	}
	return "Ssid(<empty>)"
}

// Demo returns the Demo variant and true, if this Ssid is a Demo credential.
func (s Ssid) Demo() (Demo, bool) {
	if s.demo == nil {
		return Demo{}, false
	}
	return *s.demo, true
}

// Real returns the Real variant and true, if this Ssid is a Real credential.
func (s Ssid) Real() (Real, bool) {
	if s.real == nil {
		return Real{}, false
	}
	return *s.real, true
}

// UID returns the account UID regardless of variant.
func (s Ssid) UID() uint32 {
	if s.demo != nil {
		return s.demo.UID
	}
	if s.real != nil {
		return s.real.UID
	}
	return 0
}

// UserAgent returns the user-agent the Connector should present when dialing.
func (s Ssid) UserAgent() string {
	if s.real != nil && s.real.Session.UserAgent != "" {
		return s.real.Session.UserAgent
	}
	return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"
}

// ParseSsid parses the broker's raw SSID line, the bare JSON payload, or a
// double-quoted variant of either (spec §3).
func ParseSsid(data string) (Ssid, error) {
	trimmed := strings.TrimSpace(data)

	// Double-encoded / JSON-string-wrapped form.
	var unquoted string
	if err := json.Unmarshal([]byte(trimmed), &unquoted); err == nil {
		return ParseSsid(unquoted)
	}
	if strings.HasPrefix(trimmed, `"`) && strings.HasSuffix(trimmed, `"`) && len(trimmed) >= 2 {
		inner := trimmed[1 : len(trimmed)-1]
		if strings.HasPrefix(inner, `42[`) {
			return ParseSsid(inner)
		}
	}

	const prefix = `42["auth",`
	parsed := trimmed
	if strings.HasPrefix(trimmed, prefix) {
		rest := strings.TrimPrefix(trimmed, prefix)
		if !strings.HasSuffix(rest, "]") {
			return Ssid{}, NewCoreError(CoreSsidParsing, "missing closing bracket", nil)
		}
		parsed = strings.TrimSuffix(rest, "]")
	}

	var demo Demo
	decoded := struct {
		Session       string `json:"session"`
		IsDemo        int    `json:"isDemo"`
		UID           json.RawMessage `json:"uid"`
		Platform      int    `json:"platform"`
		CurrentURL    string `json:"currentUrl"`
		IsFastHistory *bool  `json:"isFastHistory"`
		IsOptimized   *bool  `json:"isOptimized"`
	}{}
	if err := json.Unmarshal([]byte(parsed), &decoded); err != nil {
		return Ssid{}, NewCoreError(CoreSsidParsing, "JSON parsing error", err)
	}
	uid, err := parseUID(decoded.UID)
	if err != nil {
		return Ssid{}, NewCoreError(CoreSsidParsing, "invalid uid", err)
	}
	demo = Demo{
		Session:       decoded.Session,
		IsDemo:        decoded.IsDemo,
		UID:           uid,
		Platform:      decoded.Platform,
		CurrentURL:    decoded.CurrentURL,
		IsFastHistory: decoded.IsFastHistory,
		IsOptimized:   decoded.IsOptimized,
		raw:           trimmed,
		jsonRaw:       parsed,
	}

	isDemoURL := strings.Contains(decoded.CurrentURL, "demo")
	if demo.IsDemo == 1 || isDemoURL {
		return Ssid{demo: &demo}, nil
	}

	sessionData, err := decodePHPSession(demo.Session)
	if err != nil {
		// Try stripping a trailing 32-byte digest.
		if len(demo.Session) > 32 {
			sessionData, err = decodePHPSession(demo.Session[:len(demo.Session)-32])
		}
		if err != nil {
			return Ssid{}, NewCoreError(CoreSsidParsing, "error parsing session data", err)
		}
	}

	real := &Real{
		Session:       sessionData,
		SessionRaw:    demo.Session,
		IsDemo:        demo.IsDemo,
		UID:           demo.UID,
		Platform:      demo.Platform,
		IsFastHistory: demo.IsFastHistory,
		IsOptimized:   demo.IsOptimized,
		raw:           trimmed,
		jsonRaw:       parsed,
	}
	return Ssid{real: real}, nil
}

func parseUID(raw json.RawMessage) (uint32, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing uid")
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return uint32(n), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, err
		}
		return uint32(v), nil
	}
	return 0, fmt.Errorf("invalid uid type")
}

// Servers returns the ordered fallback region URLs for this credential (spec §9 /
// SPEC_FULL §5): Demo accounts use the fixed demo region, Real accounts use a
// fixed global pool (EU, US, MSK); the session's IP address is not consulted.
func (s Ssid) Servers() []string {
	if s.demo != nil {
		return []string{"wss://demo-api-eu.po.market/socket.io/?EIO=4&transport=websocket"}
	}
	if s.real != nil {
		// The broker assigns regional endpoints by account geography; without a
		// geo-IP service in the pack, we fall back to the documented global pool.
		return []string{
			"wss://api-eu.po.market/socket.io/?EIO=4&transport=websocket",
			"wss://api-us.po.market/socket.io/?EIO=4&transport=websocket",
			"wss://api-msk.po.market/socket.io/?EIO=4&transport=websocket",
		}
	}
	return nil
}
