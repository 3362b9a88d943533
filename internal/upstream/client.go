// Package upstream is the client for the streaming speech-to-text provider.
//
// One Conn is one bidirectional websocket stream: raw 16-bit linear PCM goes
// up as binary frames, JSON result events come back as text frames. The
// provider is Deepgram's live transcription endpoint; anything speaking the
// same message protocol works.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Audio format sent upstream. Browsers capture and downsample to this.
const (
	Encoding   = "linear16"
	SampleRate = 16000
	Channels   = 1
)

const (
	// Time allowed to write a frame to the provider.
	writeWait = 10 * time.Second

	// Time allowed for the provider to acknowledge a close.
	closeWait = 2 * time.Second

	// Provider result events are small; this is generous.
	maxEventSize = 1 << 20
)

// Options configures a Dialer.
type Options struct {
	// URL is the provider endpoint without query parameters.
	URL    string
	APIKey string
	Model  string

	// EndpointingMS is how long the provider waits in silence before
	// flagging a final result. Zero leaves the provider default.
	EndpointingMS int

	// AttemptTimeout bounds a single connection attempt.
	AttemptTimeout time.Duration
}

// Dialer opens provider streams.
type Dialer struct {
	endpoint string
	header   http.Header
	timeout  time.Duration
	dialer   *websocket.Dialer
}

// NewDialer validates opts and builds the endpoint URL once.
func NewDialer(opts Options) (*Dialer, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid provider URL scheme %q", u.Scheme)
	}

	q := u.Query()
	if opts.Model != "" {
		q.Set("model", opts.Model)
	}
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	q.Set("encoding", Encoding)
	q.Set("sample_rate", strconv.Itoa(SampleRate))
	q.Set("channels", strconv.Itoa(Channels))
	if opts.EndpointingMS > 0 {
		q.Set("endpointing", strconv.Itoa(opts.EndpointingMS))
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+opts.APIKey)

	timeout := opts.AttemptTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Dialer{
		endpoint: u.String(),
		header:   header,
		timeout:  timeout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}, nil
}

// Endpoint returns the full provider URL including query parameters.
func (d *Dialer) Endpoint() string {
	return d.endpoint
}

// Open dials a new provider stream. The attempt is bounded by the dialer's
// attempt timeout as well as ctx. A timeout yields a *ConnectError wrapping
// ErrConnectTimeout; any other failure wraps ErrConnectFailed. Cancellation
// of ctx is returned as ctx.Err().
func (d *Dialer) Open(ctx context.Context) (*Conn, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ws, resp, err := d.dialer.DialContext(attemptCtx, d.endpoint, d.header)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		if attemptCtx.Err() != nil || isTimeout(err) {
			return nil, &ConnectError{
				Op:      "open stream",
				Err:     ErrConnectTimeout,
				Details: fmt.Sprintf("after %s", d.timeout),
			}
		}
		details := err.Error()
		if resp != nil {
			details = fmt.Sprintf("%s: status %d", details, resp.StatusCode)
		}
		return nil, &ConnectError{Op: "open stream", Err: ErrConnectFailed, Details: details}
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	ws.SetReadLimit(maxEventSize)
	return &Conn{ws: ws}, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// Conn is one open provider stream. Send and KeepAlive may be called
// concurrently with each other and with Recv; Recv must have a single caller.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Send writes one audio frame.
func (c *Conn) Send(audio []byte) error {
	return c.write(websocket.BinaryMessage, audio)
}

// KeepAlive writes the provider's keepalive control frame.
func (c *Conn) KeepAlive() error {
	return c.write(websocket.TextMessage, keepAliveFrame)
}

func (c *Conn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(messageType, data)
}

// Recv blocks until the next JSON event arrives. Non-text and unparseable
// frames are skipped. A normal close from the provider is reported as
// ErrStreamClosed. Cancelling ctx unblocks a pending read without closing
// the socket and returns ctx.Err().
func (c *Conn) Recv(ctx context.Context) (Event, error) {
	stop := context.AfterFunc(ctx, func() {
		c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return Event{}, ErrStreamClosed
			}
			return Event{}, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		ev, err := ParseEvent(data)
		if err != nil {
			continue
		}
		return ev, nil
	}
}

// Close asks the provider to flush and closes the socket. Safe to call
// more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(closeWait))
		c.ws.WriteMessage(websocket.TextMessage, closeStreamFrame)
		c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
