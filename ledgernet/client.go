package ledgernet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
	"github.com/weedbox/timebank"
)

var (
	ErrClientClosed    = errors.New("ledgernet: client closed")
	ErrNotConnected    = errors.New("ledgernet: not connected")
	ErrCallTimeout     = errors.New("ledgernet: call timed out")
	ErrAuthFailed      = errors.New("ledgernet: authentication failed")
	ErrDuplicateCallID = errors.New("ledgernet: duplicate call id")
)

type ClientConfig struct {
	URL           string
	Log           slog.Logger
	CallTimeout   time.Duration
	ReconnectWait time.Duration
	Dialer        *websocket.Dialer
}

// SignedRequest is a fully co-signed call ready for submission. RequestID and
// Timestamp must be the exact values the participants signed over; the client
// sends them verbatim, never regenerating either.
type SignedRequest struct {
	RequestID  uint64
	Method     string
	Params     json.RawMessage
	Timestamp  uint64
	Signatures []string
}

// Client maintains one persistent connection to the ledger network, shared by
// every room in the process. Outbound calls are correlated to inbound
// responses by request id; push notifications from the network are dispatched
// to listeners by method key, independent of the correlation path.
//
// On an unexpected disconnect the client reconnects after a fixed backoff and,
// if a session token was previously established, re-authenticates before any
// new call goes out. Pending calls are left waiting so in-flight operations
// resume rather than aborting every room at once.
type Client struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[uint64]chan *ResponseEnvelope
	handlers map[string][]func(json.RawMessage)
	token    string
	closed   bool

	nextID uint64
	tb     *timebank.TimeBank
	log    slog.Logger
	config ClientConfig
}

func NewClient(config ClientConfig) *Client {
	if config.CallTimeout == 0 {
		config.CallTimeout = 30 * time.Second
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 3 * time.Second
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	log := config.Log
	if log == nil {
		log = slog.Disabled
	}

	return &Client{
		pending:  make(map[uint64]chan *ResponseEnvelope),
		handlers: make(map[string][]func(json.RawMessage)),
		tb:       timebank.NewTimeBank(),
		log:      log,
		config:   config,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.mu.Unlock()

	conn, _, err := c.config.Dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return fmt.Errorf("ledgernet: dial %s: %w", c.config.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readPump(conn)

	c.log.Infof("connected to ledger network at %s", c.config.URL)
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	c.tb.Cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// NextRequestID reserves a request id from the monotonic counter. Co-signed
// operations reserve one id up front so every participant signs the identical
// payload.
func (c *Client) NextRequestID() uint64 {
	return atomic.AddUint64(&c.nextID, 1)
}

// OnNotification registers a listener for out-of-band pushes from the ledger
// network, keyed by method.
func (c *Client) OnNotification(method string, fn func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[method] = append(c.handlers[method], fn)
}

// Authenticate verifies the session token with the ledger network and stores
// it for envelope-level use and for silent re-authentication on reconnect.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	payload, err := json.Marshal(&AuthVerifyParams{Token: token})
	if err != nil {
		return err
	}

	raw, err := c.call(ctx, RequestEnvelope{
		Req: rpcBody{
			RequestID: c.NextRequestID(),
			Method:    Method_AuthVerify,
			Payload:   payload,
			Timestamp: uint64(time.Now().UnixMilli()),
		},
	})
	if err != nil {
		return err
	}

	var result AuthVerifyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("ledgernet: decode auth result: %w", err)
	}
	if !result.Success {
		return ErrAuthFailed
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	return nil
}

// Call issues a plain (non-cosigned) request with a fresh id and timestamp
// and returns the raw result payload.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	return c.call(ctx, RequestEnvelope{
		Req: rpcBody{
			RequestID: c.NextRequestID(),
			Method:    method,
			Payload:   payload,
			Timestamp: uint64(time.Now().UnixMilli()),
		},
		SID: c.envelopeToken(method),
	})
}

// CallSigned submits a co-signed request. The id, timestamp and params go out
// exactly as signed; regenerating any of them would invalidate every
// collected signature.
func (c *Client) CallSigned(ctx context.Context, req *SignedRequest) (json.RawMessage, error) {
	return c.call(ctx, RequestEnvelope{
		Req: rpcBody{
			RequestID: req.RequestID,
			Method:    req.Method,
			Payload:   req.Params,
			Timestamp: req.Timestamp,
		},
		Sig: req.Signatures,
		SID: c.envelopeToken(req.Method),
	})
}

func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// envelopeToken returns the bearer token for methods that carry it at the
// envelope level. The token is never part of the signed body.
func (c *Client) envelopeToken(method string) string {
	switch method {
	case Method_SubmitAppState, Method_CloseAppSession:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.token
	default:
		return ""
	}
}

func (c *Client) call(ctx context.Context, env RequestEnvelope) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	if _, exists := c.pending[env.Req.RequestID]; exists {
		c.mu.Unlock()
		return nil, ErrDuplicateCallID
	}
	ch := make(chan *ResponseEnvelope, 1)
	c.pending[env.Req.RequestID] = ch
	c.mu.Unlock()

	if err := c.send(conn, env); err != nil {
		c.removePending(env.Req.RequestID)
		return nil, err
	}

	select {
	case res, ok := <-ch:
		if !ok {
			return nil, ErrClientClosed
		}
		return c.decodeResult(res)
	case <-time.After(c.config.CallTimeout):
		c.removePending(env.Req.RequestID)
		return nil, ErrCallTimeout
	case <-ctx.Done():
		c.removePending(env.Req.RequestID)
		return nil, ctx.Err()
	}
}

func (c *Client) decodeResult(res *ResponseEnvelope) (json.RawMessage, error) {
	if res.Method() == Method_Error {
		var result ErrorResult
		if err := json.Unmarshal(res.Res.Payload, &result); err != nil {
			return nil, ErrMalformedEnvelope
		}
		return nil, fmt.Errorf("ledgernet: rpc error: %s", result.Error)
	}
	return res.Res.Payload, nil
}

func (c *Client) send(conn *websocket.Conn, env RequestEnvelope) error {
	data, err := json.Marshal(&env)
	if err != nil {
		return err
	}

	// gorilla websocket permits one concurrent writer only
	c.mu.Lock()
	defer c.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) removePending(requestID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, requestID)
}

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}

		envelopes, err := decodeResponses(data)
		if err != nil {
			c.log.Warnf("dropping malformed ledger message: %v", err)
			continue
		}

		for _, env := range envelopes {
			c.dispatch(env)
		}
	}
}

func (c *Client) dispatch(env *ResponseEnvelope) {
	c.mu.Lock()
	ch, isPending := c.pending[env.RequestID()]
	if isPending {
		delete(c.pending, env.RequestID())
	}
	var handlers []func(json.RawMessage)
	if !isPending {
		handlers = append(handlers, c.handlers[env.Method()]...)
	}
	c.mu.Unlock()

	if isPending {
		ch <- env
		return
	}

	if len(handlers) == 0 {
		c.log.Debugf("unhandled ledger notification: %s", env.Method())
		return
	}
	for _, fn := range handlers {
		fn(env.Res.Payload)
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Warnf("ledger connection lost: %v", err)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	_ = c.tb.NewTask(c.config.ReconnectWait, func(isCancelled bool) {
		if isCancelled {
			return
		}
		c.reconnect()
	})
}

// reconnect re-dials and, when a session token was previously established,
// re-authenticates once for the whole process before any new call is
// attempted. A disconnect must never require in-progress matches to restart.
func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	token := c.token
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.CallTimeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		c.log.Warnf("ledger reconnect failed: %v", err)
		c.scheduleReconnect()
		return
	}

	if token != "" {
		if err := c.Authenticate(ctx, token); err != nil {
			c.log.Errorf("ledger re-authentication failed: %v", err)
		}
	}
}
