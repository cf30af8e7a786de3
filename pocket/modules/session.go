// Package modules implements the concrete protocol modules that plug into
// the transport Router/Runner: session/init, keep-alive, trades, deals,
// subscriptions, historical candles, pending-orders, assets, balance, and
// server-time (spec §4.3-§4.10).
package modules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chipadevteam/pocketoption-go/pocket"
	"github.com/chipadevteam/pocketoption-go/pocket/transport"
)

// ipProviders mirrors the original's provider list shape; a short ordered
// fallback so a single provider outage doesn't blank the diagnostic.
var ipProviders = []string{
	"https://api.ipify.org?format=json",
	"https://ifconfig.me/all.json",
}

// bestEffortPublicIP fetches the caller's public IP for the rejection log
// (spec §4.3 step 4). Failures are swallowed; this is purely diagnostic.
func bestEffortPublicIP(ctx context.Context) (string, bool) {
	client := &http.Client{Timeout: 2 * time.Second}
	for _, url := range ipProviders {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		var body struct {
			IP    string `json:"ip"`
			Query string `json:"query"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			continue
		}
		if body.IP != "" {
			return body.IP, true
		}
		if body.Query != "" {
			return body.Query, true
		}
	}
	return "", false
}

// NewSessionInit builds the Runner's initFn (spec §4.3): it owns the socket
// exclusively until authentication completes, driving the Engine.IO/Socket.IO
// handshake and the post-auth bootstrap sequence. It is not a registered
// Module — the handshake is inherently sequential, not something the Router's
// fan-out dispatch should own, and it returns control to the Runner's own
// reader/writer loops the moment authentication succeeds.
func NewSessionInit(ssid pocket.Ssid, defaultSymbol string, log *zap.SugaredLogger) func(ctx context.Context, conn transport.Conn, send func([]byte) error) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return func(ctx context.Context, conn transport.Conn, send func([]byte) error) error {
		authenticated := false
		pendingSuccessAuth := false

		for {
			select {
			case <-ctx.Done():
				return pocket.NewCoreError(pocket.CoreWebSocket, "handshake cancelled", ctx.Err())
			default:
			}

			msgType, data, err := conn.ReadMessage()
			if err != nil {
				if authenticated {
					return nil
				}
				return pocket.NewConnectorError(pocket.ConnectorClosed, "socket closed before authentication completed", err)
			}
			frame := transport.NewFrame(data, msgType == 2)

			switch frame.Kind {
			case transport.FrameOpen:
				log.Debugw("received engine.io open, acking namespace connect")
				if err := send([]byte("40")); err != nil {
					return pocket.NewCoreError(pocket.CoreWebSocket, "failed to send 40", err)
				}

			case transport.FrameNamespaceConnect:
				log.Debugw("socket.io session established, sending ssid")
				if err := send([]byte(ssid.String())); err != nil {
					return pocket.NewCoreError(pocket.CoreWebSocket, "failed to send ssid", err)
				}

			case transport.FrameNamespaceDisconnect:
				// Authentication always returns control to the Runner the
				// instant successauth is seen, so reaching here means this is
				// necessarily a pre-auth rejection (spec §4.3 step 4). A 41
				// arriving after authentication goes through the Router, where
				// no registered rule or handler matches it, so it has no effect.
				log.Errorw("server rejected session (41)")
				if ip, ok := bestEffortPublicIP(ctx); ok {
					log.Warnw("session rejected while connecting from public IP", "ip", ip)
				}
				return pocket.NewConnectorError(pocket.ConnectorClosed, "server rejected session (41)", nil)

			case transport.FramePing:
				if err := send([]byte("3")); err != nil {
					return pocket.NewCoreError(pocket.CoreWebSocket, "failed to answer ping", err)
				}

			case transport.FrameEvent:
				name, ok := frame.EventName()
				if ok && name == "successauth" {
					authenticated = true
					if err := sendBootstrap(send, defaultSymbol); err != nil {
						return err
					}
					log.Infow("authentication successful")
					return nil
				}

			case transport.FrameBinaryEventHeader:
				name, ok := frame.EventName()
				pendingSuccessAuth = ok && name == "successauth"

			case transport.FrameBinary:
				if pendingSuccessAuth {
					pendingSuccessAuth = false
					authenticated = true
					if err := sendBootstrap(send, defaultSymbol); err != nil {
						return err
					}
					log.Infow("authentication successful")
					return nil
				}
			}
		}
	}
}

// sendBootstrap emits the post-auth data-load sequence in the exact required
// order (spec §4.3 step 5).
func sendBootstrap(send func([]byte) error, defaultSymbol string) error {
	messages := []string{
		`42["assets/load"]`,
		`42["indicator/load"]`,
		`42["favorite/load"]`,
		`42["price-alert/load"]`,
		fmt.Sprintf(`42["changeSymbol",{"asset":"%s","period":60}]`, defaultSymbol),
		fmt.Sprintf(`42["subfor","%s"]`, defaultSymbol),
	}
	for _, m := range messages {
		if err := send([]byte(m)); err != nil {
			return pocket.NewCoreError(pocket.CoreWebSocket, "failed to send bootstrap message", err)
		}
	}
	return nil
}
