package net

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"LocalAnimator/internal/state"
)

const (
	DefaultTimeout   = 5 * time.Second
	DefaultAttempts  = 5
	DefaultDelay     = time.Second
	DefaultMaxDelay  = 5 * time.Second
	closeGracePeriod = time.Second
)

type ClientOption func(*Client)

// WithTimeout bounds how long Request waits for a correlated reply.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithReconnect sets the dial attempts and the backoff between them. The
// delay doubles after every failure up to maxDelay.
func WithReconnect(attempts int, delay, maxDelay time.Duration) ClientOption {
	return func(c *Client) {
		c.attempts, c.delay, c.maxDelay = max(attempts, 1), delay, maxDelay
	}
}

func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

type result struct {
	env Envelope
	err error
}

// Client is a participant's connection to the relay. It reconnects on its own
// after a lost connection and mirrors the last state the relay sent.
type Client struct {
	url      string
	timeout  time.Duration
	attempts int
	delay    time.Duration
	maxDelay time.Duration
	dialer   *websocket.Dialer
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	pending map[string]chan result
	mirror  *state.Snapshot
	onState []func(state.Snapshot)
}

// Dial connects to the relay at url, retrying with backoff.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:      url,
		timeout:  DefaultTimeout,
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
		maxDelay: DefaultMaxDelay,
		dialer:   websocket.DefaultDialer,
		log:      slog.Default(),
		pending:  make(map[string]chan result),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "client", "url", url)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	conn, err := c.dial(ctx)
	if err != nil {
		c.cancel()
		return nil, err
	}
	c.attach(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	delay := c.delay
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			c.log.Info("connected", "attempt", attempt)
			return conn, nil
		}
		lastErr = err
		c.log.Warn("dial failed", "attempt", attempt, "of", c.attempts, "err", err)
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, state.Disconnected("dial", ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, c.maxDelay)
	}
	return nil, state.Disconnected("dial", lastErr)
}

// attach installs a fresh connection. request_state goes out before any
// other write can use the connection.
func (c *Client) attach(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	c.writeMu.Lock()
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	msg, _ := encode(EventRequestState, "", nil)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.log.Warn("request_state failed", "err", err)
	}
	c.writeMu.Unlock()
	go c.readLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.lost(conn, err)
			return
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			c.log.Warn("malformed message from relay", "err", err)
			continue
		}
		if env.Event == EventStateUpdate {
			c.updateMirror(env.Data)
		}
		if env.ID != "" {
			c.deliver(env)
		}
	}
}

func (c *Client) updateMirror(data json.RawMessage) {
	var snap state.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.log.Warn("undecodable state_update", "err", err)
		return
	}
	c.mu.Lock()
	if snap.ActiveLayer == "" && c.mirror != nil {
		snap.ActiveLayer = c.mirror.ActiveLayer
	}
	c.mirror = &snap
	fns := slices.Clone(c.onState)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(snap.Clone())
	}
}

func (c *Client) deliver(env Envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	delete(c.pending, env.ID)
	c.mu.Unlock()
	if ok {
		ch <- result{env: env}
	}
}

// lost fails every pending request and starts reconnecting unless the
// client was closed.
func (c *Client) lost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]chan result)
	closed := c.closed
	c.mu.Unlock()
	conn.Close()

	for _, ch := range pending {
		ch <- result{err: state.Disconnected("request", cause)}
	}
	if closed {
		return
	}
	c.log.Warn("connection lost, reconnecting", "err", cause)
	go c.reconnect()
}

func (c *Client) reconnect() {
	conn, err := c.dial(c.ctx)
	if err != nil {
		c.log.Error("giving up on relay", "err", err)
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		conn.Close()
		return
	}
	c.attach(conn)
}

func (c *Client) send(event, id string, payload any) error {
	msg, err := encode(event, id, payload)
	if err != nil {
		return state.Invalid(event, "%v", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return state.Disconnected(event, nil)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return state.Disconnected(event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return state.Disconnected(event, err)
	}
	return nil
}

// Request sends event with a fresh correlation id and decodes the matching
// reply into reply. Without a reply in time it fails with a Timeout error and
// the connection stays up.
func (c *Client) Request(ctx context.Context, event string, payload, reply any) error {
	id := uuid.NewString()
	ch := make(chan result, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(event, id, payload); err != nil {
		return err
	}
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if res.env.Event == EventError {
			var r Reply
			json.Unmarshal(res.env.Data, &r)
			return state.Invalid(event, "relay rejected request: %s", r.Message)
		}
		if reply != nil && len(res.env.Data) > 0 {
			if err := json.Unmarshal(res.env.Data, reply); err != nil {
				return state.Invalid(event, "decode reply: %v", err)
			}
		}
		return nil
	case <-timer.C:
		return state.Timeout(event, c.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnState registers fn for every state_update received from the relay.
func (c *Client) OnState(fn func(state.Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// State returns a copy of the last state received from the relay.
func (c *Client) State() (state.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mirror == nil {
		return state.Snapshot{}, false
	}
	return c.mirror.Clone(), true
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close disconnects and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	c.cancel()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod))
	c.writeMu.Unlock()
	return conn.Close()
}

// UpdateState pushes a full local snapshot to the relay. The relay answers
// by broadcasting the merged state, so no reply is awaited.
func (c *Client) UpdateState(snap state.Snapshot) error {
	return c.send(EventUpdateState, "", snap)
}

// RequestState asks the relay for the full state and returns it.
func (c *Client) RequestState(ctx context.Context) (state.Snapshot, error) {
	if err := c.Request(ctx, EventRequestState, nil, nil); err != nil {
		return state.Snapshot{}, err
	}
	snap, _ := c.State()
	return snap, nil
}

func (c *Client) CreateElement(ctx context.Context, sceneID, layerID string, el state.Element) (ElementReply, error) {
	var r ElementReply
	req, err := NewCreateElementRequest(sceneID, layerID, el)
	if err != nil {
		return r, err
	}
	err = c.Request(ctx, EventCreateElement, req, &r)
	return r, err
}

// CreateElementAt adds the element at frameNumber, moving the relay's cursor
// there first.
func (c *Client) CreateElementAt(ctx context.Context, sceneID, layerID string, frameNumber int, el state.Element) (ElementReply, error) {
	var r ElementReply
	req, err := NewCreateElementRequest(sceneID, layerID, el)
	if err != nil {
		return r, err
	}
	req.FrameNumber = &frameNumber
	err = c.Request(ctx, EventCreateElement, req, &r)
	return r, err
}

// CaptureFrame captures at the relay's cursor, or at frameNumber when given.
func (c *Client) CaptureFrame(ctx context.Context, sceneID string, frameNumber *int) (FrameReply, error) {
	var r FrameReply
	err := c.Request(ctx, EventCaptureFrame, CaptureFrameRequest{SceneID: sceneID, FrameNumber: frameNumber}, &r)
	return r, err
}

func (c *Client) CreateLayer(ctx context.Context, sceneID, name string, typ state.LayerType) (LayerReply, error) {
	var r LayerReply
	err := c.Request(ctx, EventCreateLayer, CreateLayerRequest{SceneID: sceneID, Name: name, Type: typ}, &r)
	return r, err
}

func (c *Client) ActivateLayer(ctx context.Context, sceneID, layerID string) (LayerReply, error) {
	var r LayerReply
	err := c.Request(ctx, EventActivateLayer, ActivateLayerRequest{SceneID: sceneID, LayerID: layerID}, &r)
	return r, err
}

func (c *Client) RemoveElement(ctx context.Context, sceneID, layerID, elementID string) (Reply, error) {
	var r Reply
	err := c.Request(ctx, EventRemoveElement, RemoveElementRequest{SceneID: sceneID, LayerID: layerID, ElementID: elementID}, &r)
	return r, err
}
