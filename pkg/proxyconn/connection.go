// Package proxyconn implements the per-client side of the embedded proxy:
// one Connection serves exactly one inbound channel, interpreting CONNECT
// versus plain forwarding requests, dialing the upstream host, and
// shuttling bytes until the response completes, either side closes, or the
// connection goes idle past the inactivity budget.
package proxyconn

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appurify/go-tunnel/pkg/constants"
	rherrors "github.com/appurify/go-tunnel/pkg/errors"
	"github.com/appurify/go-tunnel/pkg/httpmsg"
	"github.com/appurify/go-tunnel/pkg/timing"
	"github.com/sirupsen/logrus"
)

// established is the byte sequence written back to the client once the
// upstream connection for a CONNECT tunnel is up.
func established(product, version string) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 200 Connection established\r\nProxy-agent: %s/%s\r\n\r\n", product, version))
}

// badGateway reports an upstream dial or forwarding fault to the client.
func badGateway(reason string) []byte {
	return []byte(fmt.Sprintf("HTTP/1.1 502 Bad Gateway\r\n%s\r\n\r\n", reason))
}

// Dialer opens the upstream TCP connection. A plain net.Dialer.Dial in
// production; swappable in tests.
type Dialer func(network, addr string) (net.Conn, error)

// Connection serves exactly one accepted channel end to end.
type Connection struct {
	client net.Conn
	server net.Conn

	requestParser  *httpmsg.Message
	responseParser *httpmsg.Message

	dial Dialer
	log  *logrus.Entry

	lastActivity atomic.Int64 // unix nanos
	closed       atomic.Bool
	closeOnce    sync.Once

	product string
	version string
}

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithDialer overrides the upstream dialer (used by tests).
func WithDialer(d Dialer) Option {
	return func(c *Connection) { c.dial = d }
}

// New wraps an accepted client connection. log should already carry the
// remote-address field; Serve adds method/host/port as they become known.
func New(client net.Conn, product, version string, log *logrus.Entry, opts ...Option) *Connection {
	c := &Connection{
		client:         client,
		requestParser:  httpmsg.NewRequest(),
		responseParser: httpmsg.NewResponse(),
		dial:           net.Dial,
		log:            log,
		product:        product,
		version:        version,
	}
	c.touch()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

// Serve drives the connection to completion. It never panics out to the
// caller; all faults are handled internally (502 to the client, or a silent
// close) and Serve simply returns once the connection is done.
func (c *Connection) Serve() {
	timer := timing.NewTimer()
	defer c.Close()

	if err := c.readRequest(); err != nil {
		if !rherrors.IsTimeoutError(err) {
			c.writeBadGateway(err.Error())
		}
		return
	}

	if c.requestParser.Method == "CONNECT" {
		c.serveConnect(timer)
		return
	}
	c.serveForward(timer)
}

// readRequest reads from the client until the request parser reaches
// Complete, applying the 30s inactivity budget to each read.
func (c *Connection) readRequest() error {
	buf := make([]byte, constants.MaxRecvBytes)
	for c.requestParser.State() != httpmsg.Complete {
		c.client.SetReadDeadline(time.Now().Add(constants.MaxInactivity))
		n, err := c.client.Read(buf)
		if n > 0 {
			c.touch()
			if perr := c.requestParser.Parse(buf[:n]); perr != nil {
				return perr
			}
		}
		if err != nil {
			if c.requestParser.State() == httpmsg.Complete {
				break
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return rherrors.NewInactivityTimeout(c.idleFor())
			}
			return rherrors.NewParseError("request", "client closed before request complete")
		}
	}
	return nil
}

func (c *Connection) serveConnect(timer *timing.Timer) {
	host, port := c.target(80)
	addr := net.JoinHostPort(host, port)

	timer.StartDial()
	server, err := c.dial("tcp", addr)
	timer.EndDial()
	if err != nil {
		c.writeBadGateway(rherrors.NewProxyConnectFailed(host, atoiOr(port, 0), err).Error())
		c.logCompletion(timer, "CONNECT", host, port, 0, "", 0)
		return
	}
	c.server = server

	if _, err := c.client.Write(established(c.product, c.version)); err != nil {
		return
	}
	c.touch()

	bytesTransferred := c.relay()
	c.logCompletion(timer, "CONNECT", host, port, bytesTransferred, "", 0)
}

// relay blindly forwards bytes in both directions until one side closes or
// the connection has been idle past the inactivity budget. The inner
// traffic (typically TLS) is never parsed. Each write carries its own short
// readiness deadline, distinct from the larger per-read inactivity budget:
// a destination that can't accept data within that window is treated as
// stalled rather than merely idle.
func (c *Connection) relay() int64 {
	var total atomic.Int64
	var wg sync.WaitGroup
	wg.Add(2)

	pipe := func(dst, src net.Conn) {
		defer wg.Done()
		defer func() {
			if tc, ok := dst.(interface{ CloseWrite() error }); ok {
				tc.CloseWrite()
			}
		}()
		buf := make([]byte, constants.MaxRecvBytes)
		for {
			src.SetReadDeadline(time.Now().Add(constants.MaxInactivity))
			n, err := src.Read(buf)
			if n > 0 {
				c.touch()
				dst.SetWriteDeadline(time.Now().Add(constants.ReadinessTimeout))
				if _, werr := dst.Write(buf[:n]); werr != nil {
					return
				}
				c.touch()
				total.Add(int64(n))
			}
			if err != nil {
				return
			}
		}
	}

	go pipe(c.server, c.client)
	go pipe(c.client, c.server)
	wg.Wait()
	return total.Load()
}

// serveForward handles any non-CONNECT method: the request is already fully
// parsed by readRequest, so it dials upstream, reissues the request with
// hop-by-hop headers stripped, then streams the response back while
// watching responseParser for completion.
func (c *Connection) serveForward(timer *timing.Timer) {
	host, port := c.target(80)
	addr := net.JoinHostPort(host, port)

	timer.StartDial()
	server, err := c.dial("tcp", addr)
	timer.EndDial()
	if err != nil {
		c.writeBadGateway(rherrors.NewProxyConnectFailed(host, atoiOr(port, 0), err).Error())
		c.logCompletion(timer, c.requestParser.Method, host, port, 0, "", 0)
		return
	}
	c.server = server

	rebuilt := c.requestParser.Build(
		[]string{"proxy-connection", "connection", "keep-alive"},
		[][2]string{{"Connection", "Close"}},
	)
	if _, err := c.server.Write(rebuilt); err != nil {
		c.writeBadGateway(err.Error())
		c.logCompletion(timer, c.requestParser.Method, host, port, 0, "", 0)
		return
	}
	c.touch()

	bytesTransferred := c.streamResponse()
	c.logCompletion(timer, c.requestParser.Method, host, port, bytesTransferred,
		c.responseReason(), c.responseParser.StatusCode)
}

// streamResponse reads from the server, forwards each chunk to the client
// immediately, and feeds the same bytes through responseParser to detect
// completion. It returns once the parser reports Complete, either socket
// errors or hits EOF, or the connection has been idle past the budget.
func (c *Connection) streamResponse() int64 {
	var total int64
	buf := make([]byte, constants.MaxRecvBytes)
	for c.responseParser.State() != httpmsg.Complete {
		c.server.SetReadDeadline(time.Now().Add(constants.MaxInactivity))
		n, err := c.server.Read(buf)
		if n > 0 {
			c.touch()
			c.client.SetWriteDeadline(time.Now().Add(constants.ReadinessTimeout))
			if _, werr := c.client.Write(buf[:n]); werr != nil {
				return total
			}
			total += int64(n)
			if perr := c.responseParser.Parse(buf[:n]); perr != nil {
				return total
			}
			c.touch()
		}
		if err != nil {
			return total
		}
	}
	return total
}

func (c *Connection) responseReason() string {
	return c.responseParser.ReasonPhrase
}

// target resolves host/port from the parsed request's URL, defaulting port
// to defaultPort when absent.
func (c *Connection) target(defaultPort int) (host, port string) {
	u := c.requestParser.URL
	if u == nil {
		return "", strconv.Itoa(defaultPort)
	}
	host = u.Host
	port = u.Port
	if port == "" {
		port = strconv.Itoa(defaultPort)
	}
	return host, port
}

func (c *Connection) writeBadGateway(reason string) {
	c.client.Write(badGateway(reason))
}

func (c *Connection) logCompletion(timer *timing.Timer, method, host, port string, bytesTransferred int64, reason string, statusCode int) {
	if c.log == nil {
		return
	}
	metrics := timer.GetMetrics()
	entry := c.log.WithFields(logrus.Fields{
		"method":    method,
		"host":      host,
		"port":      port,
		"bytes":     bytesTransferred,
		"lifetime":  metrics.TotalTime.Seconds(),
		"dial_time": metrics.DialTime.Seconds(),
	})
	if method != "CONNECT" {
		entry = entry.WithFields(logrus.Fields{
			"target": c.requestParser.BuildRequestTarget(),
			"status": statusCode,
			"reason": reason,
		})
	}
	entry.Info("proxy connection closed")
}

// Close releases both sockets exactly once: server first, then client.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.server != nil {
			c.server.Close()
		}
		c.client.Close()
	})
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
