// Package wsclient is a reconnecting client of the dashboard WebSocket. It
// keeps following one project across server restarts: every successful open
// re-sends the subscription so the snapshot and live feed resume on their own.
package wsclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/makerGeek/claudiomiro/internal/logger"
	"github.com/makerGeek/claudiomiro/internal/models"
)

// State is the connection state of a Client
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0

	frameBuffer = 256
	writeWait   = 10 * time.Second
)

// Options configures a Client
type Options struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Dialer       *websocket.Dialer
	Logger       logger.Logger

	// OnStateChange is called with the client lock held; it must not call
	// back into the Client.
	OnStateChange func(State)
}

// Backoff returns min(initial × multiplier^attempts, max)
func Backoff(initial, max time.Duration, multiplier float64, attempts int) time.Duration {
	delay := float64(initial) * math.Pow(multiplier, float64(attempts))
	if delay >= float64(max) || math.IsInf(delay, 1) || math.IsNaN(delay) {
		return max
	}
	return time.Duration(delay)
}

// Client follows one project on a dashboard server
type Client struct {
	endpoint string
	opts     Options
	log      logger.Logger
	frames   chan models.Frame

	mu       sync.Mutex
	writeMu  sync.Mutex
	state    State
	target   string
	attempts int
	conn     *websocket.Conn
	stop     chan struct{}
	timer    *time.Timer
	manual   bool
	gen      int // bumped by Disconnect; stale dials bail out
}

// New creates a disconnected client for the WebSocket endpoint, e.g.
// ws://127.0.0.1:3000/ws
func New(endpoint string, opts Options) *Client {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = DefaultMultiplier
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		endpoint: endpoint,
		opts:     opts,
		log:      logger.OrNop(opts.Logger),
		frames:   make(chan models.Frame, frameBuffer),
	}
}

// Frames delivers every frame received from the server, across reconnects.
// Data holds the undecoded json.RawMessage payload.
func (c *Client) Frames() <-chan models.Frame {
	return c.frames
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Target returns the project the client follows
func (c *Client) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Attempts returns the number of reconnects since the last successful open
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect starts following project. It returns immediately; progress is
// reported through State and Frames.
// Calling Connect while connected behaves like Subscribe.
func (c *Client) Connect(project string) {
	c.mu.Lock()
	c.target = project
	c.manual = false
	if c.conn != nil {
		c.mu.Unlock()
		c.Subscribe(project)
		return
	}
	if c.state == StateDisconnected && c.timer == nil {
		c.setStateLocked(StateConnecting)
		gen := c.gen
		go c.open(gen)
	}
	c.mu.Unlock()
}

// Subscribe switches the followed project. While connected the request is
// sent immediately; otherwise it is sent on the next open.
func (c *Client) Subscribe(project string) error {
	c.mu.Lock()
	c.target = project
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.sendSubscribe(conn, project)
}

// Disconnect closes the connection normally and cancels any scheduled
// reconnect. The target project is cleared.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.gen++
	c.target = ""
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		conn.Close()
	}
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Client) open(gen int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.manual || c.target == "" {
		c.timer = nil
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.setStateLocked(StateConnecting)
	target := c.target
	c.mu.Unlock()

	conn, _, err := c.opts.Dialer.Dial(c.dialURL(target), nil)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.log.LogDebug(fmt.Sprintf("dial %s: %v", c.endpoint, err))
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.conn = conn
	c.stop = stop
	c.attempts = 0
	c.setStateLocked(StateConnected)
	target = c.target
	c.mu.Unlock()

	c.log.LogInfo(fmt.Sprintf("connected to %s", c.endpoint))

	// the server subscribed us from the query string, but the target may
	// have changed while dialing; re-sending is harmless either way
	if err := c.sendSubscribe(conn, target); err != nil {
		c.log.LogDebug(fmt.Sprintf("send subscribe: %v", err))
	}
	go c.readLoop(conn, stop)
}

func (c *Client) dialURL(project string) string {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return c.endpoint
	}
	q := u.Query()
	q.Set("project", project)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) sendSubscribe(conn *websocket.Conn, project string) error {
	msg, err := json.Marshal(map[string]any{
		"event": models.EventSubscribe,
		"data":  models.SubscribeRequest{ProjectPath: project},
	})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Client) readLoop(conn *websocket.Conn, stop <-chan struct{}) {
	var err error
	for {
		var data []byte
		_, data, err = conn.ReadMessage()
		if err != nil {
			break
		}
		var in models.InboundFrame
		if json.Unmarshal(data, &in) != nil || in.Event == "" {
			continue
		}
		// Data stays raw so object key order survives re-encoding
		select {
		case c.frames <- models.Frame{Event: in.Event, Data: in.Data}:
		case <-stop:
			return
		}
	}

	conn.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		// replaced or released by Disconnect
		return
	}
	c.conn = nil
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
		c.log.LogInfo(fmt.Sprintf("server closed the connection: %s", closeErr.Text))
		c.setStateLocked(StateDisconnected)
		return
	}
	c.log.LogWarn(fmt.Sprintf("connection lost: %v", err))
	c.scheduleReconnectLocked()
}

func (c *Client) scheduleReconnectLocked() {
	if c.manual || c.target == "" {
		c.setStateLocked(StateDisconnected)
		return
	}
	delay := Backoff(c.opts.InitialDelay, c.opts.MaxDelay, c.opts.Multiplier, c.attempts)
	c.attempts++
	c.setStateLocked(StateDisconnected)
	c.log.LogInfo(fmt.Sprintf("reconnecting in %s (attempt %d)", delay, c.attempts))
	gen := c.gen
	c.timer = time.AfterFunc(delay, func() { c.open(gen) })
}
