package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chipadevteam/pocketoption-go/pocket"
)

// Conn is the minimal socket surface the rest of transport depends on,
// satisfied by *websocket.Conn. Kept as an interface so tests can supply a
// fake without standing up a real TLS listener.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// dialTimeout bounds any single connection attempt (spec §4.1 "15s hard timeout").
const dialTimeout = 15 * time.Second

// Connector resolves the ordered set of candidate URLs for a session and
// dials the first one that answers, per spec.md §4.1's three-tier
// resolution (explicit default, explicit URL list tried concurrently,
// SSID-region-derived fallback pool).
type Connector struct {
	ssid   pocket.Ssid
	config pocket.Config
	log    *zap.SugaredLogger
}

// NewConnector builds a Connector for the given session and config.
func NewConnector(ssid pocket.Ssid, cfg pocket.Config, log *zap.SugaredLogger) *Connector {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Connector{ssid: ssid, config: cfg, log: log}
}

// candidateURLs resolves the ordered URL list per spec.md §4.1:
//  1. a single explicit DefaultConnectionURL if configured (handled by caller)
//  2. an explicit fallback list (cfg.URLs) tried concurrently
//  3. the SSID's region-derived fallback pool
func (c *Connector) candidateURLs(defaultURL string) []string {
	if defaultURL != "" {
		return []string{defaultURL}
	}
	if len(c.config.URLs) > 0 {
		return c.config.URLs
	}
	return c.ssid.Servers()
}

// dialResult carries the outcome of one concurrent dial attempt.
type dialResult struct {
	url  string
	conn Conn
	err  error
}

// Connect resolves candidate URLs and dials them concurrently, returning the
// first successful connection and cancelling the rest. defaultURL, when
// non-empty, short-circuits resolution to a single explicit URL.
func (c *Connector) Connect(ctx context.Context, defaultURL string) (Conn, string, error) {
	urls := c.candidateURLs(defaultURL)
	if len(urls) == 0 {
		return nil, "", pocket.NewConnectorError(pocket.ConnectorConnectionFailed, "no candidate URLs resolved", nil)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if len(urls) == 1 {
		conn, err := c.dialOne(dialCtx, urls[0])
		if err != nil {
			return nil, "", err
		}
		return conn, urls[0], nil
	}

	results := make(chan dialResult, len(urls))
	var wg sync.WaitGroup
	raceCtx, raceCancel := context.WithCancel(dialCtx)
	defer raceCancel()

	for _, u := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			conn, err := c.dialOne(raceCtx, url)
			results <- dialResult{url: url, conn: conn, err: err}
		}(u)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var errs []error
	for res := range results {
		if res.err == nil {
			raceCancel()
			c.log.Infow("connected", "url", res.url)
			// drain remaining attempts in the background so their goroutines
			// don't leak once we return.
			go func() {
				for r := range results {
					if r.conn != nil {
						_ = r.conn.Close()
					}
				}
			}()
			return res.conn, res.url, nil
		}
		errs = append(errs, res.err)
	}

	return nil, "", pocket.NewConnectorError(pocket.ConnectorConnectionFailed,
		fmt.Sprintf("all %d candidate URLs failed", len(urls)), joinErrs(errs))
}

func joinErrs(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

func (c *Connector) dialOne(ctx context.Context, url string) (Conn, error) {
	headers := http.Header{}
	headers.Set("User-Agent", c.ssid.UserAgent())
	headers.Set("Origin", "https://pocketoption.com")

	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		TLSClientConfig:  &tls.Config{},
	}

	c.log.Debugw("dialing", "url", url)
	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.log.Warnw("dial failed", "url", url, "status", status, "error", err)
		return nil, pocket.NewConnectorError(pocket.ConnectorConnectionFailed, "dial "+url, err)
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

// Disconnect is documented in spec.md §4.1 as a deliberate no-op: tearing
// down the socket is the Runner's responsibility once it observes the
// Disconnect signal, not the Connector's.
func (c *Connector) Disconnect() error { return nil }
