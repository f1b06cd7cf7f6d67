package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/opsboard/livehub-go/pkg/log"
	"github.com/opsboard/livehub-go/pkg/version"
	"github.com/opsboard/livehub-go/pkg/wire"
)

// Websocket defaults.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultMaxMessageSize   = 1 << 20
	receiveBuffer           = 64
)

// ErrKeepAliveTimeout is the close cause when pongs stop arriving.
var ErrKeepAliveTimeout = errors.New("keepalive timeout")

// WebSocketConfig configures both dialed and accepted websocket connections.
type WebSocketConfig struct {
	// Codecs lists acceptable codec names in preference order (default: json).
	Codecs []string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// MaxMessageSize bounds inbound and outbound messages (default: 1 MiB).
	MaxMessageSize int64

	// KeepAlive enables ping/pong monitoring when non-nil.
	KeepAlive *KeepAliveConfig

	// Header is sent with the dial request.
	Header http.Header

	// ProtocolLogger receives frame and control events (optional).
	ProtocolLogger log.Logger

	// MaxLoggedFrame bounds captured frame data (default: log.DefaultMaxFrameData).
	MaxLoggedFrame int

	Logger *slog.Logger
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if len(c.Codecs) == 0 {
		c.Codecs = []string{wire.CodecNameJSON}
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	c.ProtocolLogger = log.OrNoop(c.ProtocolLogger)
	if c.MaxLoggedFrame == 0 {
		c.MaxLoggedFrame = log.DefaultMaxFrameData
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// WebSocketDialer dials hub endpoints over websocket.
type WebSocketDialer struct {
	config WebSocketConfig
}

// NewWebSocketDialer creates a dialer.
func NewWebSocketDialer(config WebSocketConfig) *WebSocketDialer {
	return &WebSocketDialer{config: config.withDefaults()}
}

// Dial opens a connection to endpoint (ws:// or wss:// URL).
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.config.HandshakeTimeout,
		Subprotocols:     version.SupportedSubprotocols(d.config.Codecs...),
	}

	ws, resp, err := dialer.DialContext(ctx, endpoint, d.config.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	codec, err := codecForSubprotocol(ws.Subprotocol(), d.config.Codecs)
	if err != nil {
		ws.Close()
		return nil, err
	}

	return newWSConn(ws, codec, endpoint, d.config), nil
}

// Upgrade accepts a websocket connection on the server side, negotiating the
// codec from the client's offered subprotocols.
func Upgrade(w http.ResponseWriter, r *http.Request, config WebSocketConfig) (*WSConn, error) {
	config = config.withDefaults()

	upgrader := websocket.Upgrader{
		HandshakeTimeout: config.HandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}

	offered := websocket.Subprotocols(r)
	codecName := config.Codecs[0]
	if len(offered) > 0 {
		proto, name, ok := version.Negotiate(offered, func(c string) bool {
			return slices.Contains(config.Codecs, c)
		})
		if !ok {
			http.Error(w, ErrNoCommonProtocol.Error(), http.StatusBadRequest)
			return nil, fmt.Errorf("%w: offered %v", ErrNoCommonProtocol, offered)
		}
		upgrader.Subprotocols = []string{proto}
		codecName = name
	}

	codec, err := wire.CodecByName(codecName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, err
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade: %w", err)
	}

	return newWSConn(ws, codec, r.RemoteAddr, config), nil
}

func codecForSubprotocol(proto string, accepted []string) (wire.Codec, error) {
	if proto == "" {
		return wire.CodecByName(accepted[0])
	}
	name, major, err := version.ParseSubprotocol(proto)
	if err != nil {
		return nil, err
	}
	if major != version.CurrentVersion.Major || !slices.Contains(accepted, name) {
		return nil, fmt.Errorf("%w: server chose %q", ErrNoCommonProtocol, proto)
	}
	return wire.CodecByName(name)
}

// WSConn is a websocket-backed Conn.
type WSConn struct {
	id       string
	endpoint string
	ws       *websocket.Conn
	codec    wire.Codec
	msgType  int
	config   WebSocketConfig
	logger   *slog.Logger

	recvCh chan []byte
	done   chan struct{}

	errMu   sync.Mutex
	readErr error

	closeOnce sync.Once
	writeMu   sync.Mutex

	keepAlive *KeepAlive
	cancel    context.CancelFunc
}

func newWSConn(ws *websocket.Conn, codec wire.Codec, endpoint string, config WebSocketConfig) *WSConn {
	ctx, cancel := context.WithCancel(context.Background())

	c := &WSConn{
		id:       uuid.New().String(),
		endpoint: endpoint,
		ws:       ws,
		codec:    codec,
		msgType:  websocket.TextMessage,
		config:   config,
		recvCh:   make(chan []byte, receiveBuffer),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	if codec.Binary() {
		c.msgType = websocket.BinaryMessage
	}
	c.logger = config.Logger.With("conn_id", c.id, "endpoint", endpoint)

	ws.SetReadLimit(config.MaxMessageSize)
	ws.SetPongHandler(c.handlePong)
	ws.SetPingHandler(c.handlePing)

	if config.KeepAlive != nil {
		c.keepAlive = NewKeepAlive(*config.KeepAlive, c.sendPing, func() {
			c.logger.Warn("keepalive timeout, closing connection")
			c.fail(ErrKeepAliveTimeout)
		})
		c.keepAlive.Start(ctx)
	}

	go c.readPump()
	return c
}

// ID returns the connection ID.
func (c *WSConn) ID() string { return c.id }

// Codec returns the negotiated codec.
func (c *WSConn) Codec() wire.Codec { return c.codec }

// Endpoint returns the hub URL (client side) or remote address (server side).
func (c *WSConn) Endpoint() string { return c.endpoint }

// Done is closed when the connection closes.
func (c *WSConn) Done() <-chan struct{} { return c.done }

// KeepAliveStats returns ping/pong statistics, or false if keepalive is off.
func (c *WSConn) KeepAliveStats() (KeepAliveStats, bool) {
	if c.keepAlive == nil {
		return KeepAliveStats{}, false
	}
	return c.keepAlive.Stats(), true
}

// Send writes one message.
func (c *WSConn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	if int64(len(data)) > c.config.MaxMessageSize {
		return ErrMessageTooLarge
	}

	deadline := time.Now().Add(c.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(deadline)
	err := c.ws.WriteMessage(c.msgType, data)
	c.writeMu.Unlock()

	if err != nil {
		c.fail(err)
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	c.logFrame(log.DirectionOut, data)
	return nil
}

// Receive returns the next inbound message.
func (c *WSConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.recvCh:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		// Deliver anything read before the close.
		select {
		case data := <-c.recvCh:
			return data, nil
		default:
		}
		return nil, c.err()
	}
}

// Close sends a normal close frame and closes the socket.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		if c.keepAlive != nil {
			c.keepAlive.Stop()
		}

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		code := websocket.CloseNormalClosure
		c.logControl(log.DirectionOut, log.ControlMsgClose, &code)

		err = c.ws.Close()
	})
	return err
}

func (c *WSConn) readPump() {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code := ce.Code
				c.logControl(log.DirectionIn, log.ControlMsgClose, &code)
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			c.fail(err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		c.logFrame(log.DirectionIn, data)

		select {
		case c.recvCh <- data:
		case <-c.done:
			return
		}
	}
}

// fail records the first error and closes the connection.
func (c *WSConn) fail(err error) {
	c.errMu.Lock()
	if c.readErr == nil {
		c.readErr = err
	}
	c.errMu.Unlock()
	_ = c.Close()
}

func (c *WSConn) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		return ErrConnectionClosed
	}
	return fmt.Errorf("%w: %v", ErrConnectionClosed, c.readErr)
}

func (c *WSConn) sendPing(payload []byte) error {
	err := c.ws.WriteControl(websocket.PingMessage, payload, time.Now().Add(c.config.WriteTimeout))
	if err == nil {
		c.logControl(log.DirectionOut, log.ControlMsgPing, nil)
	}
	return err
}

func (c *WSConn) handlePong(data string) error {
	c.logControl(log.DirectionIn, log.ControlMsgPong, nil)
	if c.keepAlive != nil {
		c.keepAlive.Pong([]byte(data))
	}
	return nil
}

func (c *WSConn) handlePing(data string) error {
	c.logControl(log.DirectionIn, log.ControlMsgPing, nil)
	err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.config.WriteTimeout))
	if err == nil {
		c.logControl(log.DirectionOut, log.ControlMsgPong, nil)
		return nil
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil
	}
	return err
}

func (c *WSConn) logFrame(dir log.Direction, data []byte) {
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Endpoint:     c.endpoint,
		Frame:        log.NewFrameEvent(data, c.config.MaxLoggedFrame),
	})
}

func (c *WSConn) logControl(dir log.Direction, typ log.ControlMsgType, code *int) {
	c.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		Endpoint:     c.endpoint,
		ControlMsg:   &log.ControlMsgEvent{Type: typ, CloseCode: code},
	})
}
