package pocket

import (
	"strings"
	"testing"
)

func TestDecodePHPSession(t *testing.T) {
	raw := `a:4:{s:10:"session_id";s:32:"00000000000000000000000000000000";s:10:"ip_address";s:7:"0.0.0.0";s:10:"user_agent";s:111:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36";s:13:"last_activity";i:1732926685;}00000000000000000000000000000000`

	sd, err := decodePHPSession(raw)
	if err == nil {
		t.Fatalf("expected error decoding with trailing digest still attached, got %+v", sd)
	}

	// Direct decode fails because of the trailing 32-byte digest; ParseSsid
	// strips it before calling decodePHPSession, which is exercised below.
	stripped := raw[:len(raw)-32]
	sd, err = decodePHPSession(stripped)
	if err != nil {
		t.Fatalf("decodePHPSession(stripped): %v", err)
	}
	if sd.SessionID != "00000000000000000000000000000000" {
		t.Errorf("SessionID = %q", sd.SessionID)
	}
	if sd.IPAddress != "0.0.0.0" {
		t.Errorf("IPAddress = %q", sd.IPAddress)
	}
	if !strings.HasPrefix(sd.UserAgent, "Mozilla/5.0") {
		t.Errorf("UserAgent = %q", sd.UserAgent)
	}
	if sd.LastActivity != 1732926685 {
		t.Errorf("LastActivity = %d", sd.LastActivity)
	}
}

func TestParseSsidReal(t *testing.T) {
	line := `42["auth",{"session":"a:4:{s:10:\"session_id\";s:32:\"00000000000000000000000000000000\";s:10:\"ip_address\";s:7:\"0.0.0.0\";s:10:\"user_agent\";s:111:\"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36\";s:13:\"last_activity\";i:1732926685;}00000000000000000000000000000000","isDemo":0,"uid":12345678,"platform":2}]`

	ssid, err := ParseSsid(line)
	if err != nil {
		t.Fatalf("ParseSsid: %v", err)
	}
	if ssid.IsDemo() {
		t.Fatalf("expected Real variant")
	}
	real, ok := ssid.Real()
	if !ok {
		t.Fatalf("expected Real() ok")
	}
	if real.UID != 12345678 {
		t.Errorf("UID = %d", real.UID)
	}
	if real.Platform != 2 {
		t.Errorf("Platform = %d", real.Platform)
	}
	if real.Session.SessionID != "00000000000000000000000000000000" {
		t.Errorf("Session.SessionID = %q", real.Session.SessionID)
	}
	if real.Session.IPAddress != "0.0.0.0" {
		t.Errorf("Session.IPAddress = %q", real.Session.IPAddress)
	}

	debug := real.String()
	if strings.Contains(debug, "0.0.0.0") || strings.Contains(debug, "00000000000000000000000000000000") {
		t.Errorf("debug form leaked redacted fields: %s", debug)
	}
	if !strings.Contains(debug, "REDACTED") {
		t.Errorf("debug form missing REDACTED marker: %s", debug)
	}
}

func TestParseSsidDemo(t *testing.T) {
	line := `42["auth",{"session":"dummy_session_id","isDemo":1,"uid":87654321,"platform":2}]`

	ssid, err := ParseSsid(line)
	if err != nil {
		t.Fatalf("ParseSsid: %v", err)
	}
	if !ssid.IsDemo() {
		t.Fatalf("expected Demo variant")
	}
	demo, ok := ssid.Demo()
	if !ok {
		t.Fatalf("expected Demo() ok")
	}
	if demo.UID != 87654321 {
		t.Errorf("UID = %d", demo.UID)
	}
	if demo.Session != "dummy_session_id" {
		t.Errorf("Session = %q", demo.Session)
	}

	debug := demo.String()
	if strings.Contains(debug, "dummy_session_id") {
		t.Errorf("debug form leaked session: %s", debug)
	}
}

func TestParseSsidRoundTrip(t *testing.T) {
	line := `42["auth",{"session":"dummy_session_id","isDemo":1,"uid":87654321,"platform":2}]`

	ssid, err := ParseSsid(line)
	if err != nil {
		t.Fatalf("ParseSsid: %v", err)
	}
	again, err := ParseSsid(ssid.String())
	if err != nil {
		t.Fatalf("re-parse of String() output: %v", err)
	}
	if again.UID() != ssid.UID() {
		t.Errorf("round-trip UID mismatch: %d != %d", again.UID(), ssid.UID())
	}
	if again.IsDemo() != ssid.IsDemo() {
		t.Errorf("round-trip variant mismatch")
	}
}

func TestParseSsidDoubleEncoded(t *testing.T) {
	inner := `42["auth",{"session":"dummy_session_id","isDemo":1,"uid":1,"platform":2}]`
	quoted := `"` + strings.ReplaceAll(inner, `"`, `\"`) + `"`

	ssid, err := ParseSsid(quoted)
	if err != nil {
		t.Fatalf("ParseSsid(double-encoded): %v", err)
	}
	if !ssid.IsDemo() {
		t.Fatalf("expected Demo variant")
	}
}

func TestSsidServers(t *testing.T) {
	demoLine := `42["auth",{"session":"dummy_session_id","isDemo":1,"uid":1,"platform":2}]`
	ssid, err := ParseSsid(demoLine)
	if err != nil {
		t.Fatalf("ParseSsid: %v", err)
	}
	servers := ssid.Servers()
	if len(servers) == 0 {
		t.Fatalf("expected at least one demo server URL")
	}
	for _, u := range servers {
		if !strings.HasPrefix(u, "wss://") {
			t.Errorf("server URL missing wss scheme: %q", u)
		}
	}
}
