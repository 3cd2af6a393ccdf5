package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"campus_call/native/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

const writeTimeout = 10 * time.Second

// Options configures the websocket relay client.
type Options struct {
	URL           string
	Token         string
	Self          domain.ParticipantID
	PingInterval  time.Duration
	ReconnectMin  time.Duration
	ReconnectMax  time.Duration
	Dialer        *websocket.Dialer
	LoggerFactory logging.LoggerFactory

	// TokenSource, when set, supplies the bearer token on every dial so a
	// reconnect after expiry uses a refreshed token. It overrides Token.
	TokenSource func(ctx context.Context) (string, error)
}

// Client manages the WebSocket connection to the signaling relay.
// It implements domain.Signaler.
type Client struct {
	opts    Options
	handler domain.SignalHandler
	log     logging.LeveledLogger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
	started   atomic.Bool

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient creates a relay client delivering inbound traffic to handler.
func NewClient(opts Options, handler domain.SignalHandler) *Client {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	lf := opts.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Client{
		opts:    opts,
		handler: handler,
		log:     lf.NewLogger("signal"),
		closed:  make(chan struct{}),
	}
}

// Connect dials the relay, subscribes to the private and error topics, and
// starts the read and ping loops.
func (c *Client) Connect(ctx context.Context) error {
	if c.isClosed() {
		return fmt.Errorf("%w: signaling client closed", domain.ErrInvalidState)
	}
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: signaling client already connected", domain.ErrInvalidState)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.started.Store(false)
		return err
	}

	c.wg.Add(2)
	go c.run(conn)
	go c.pingLoop()
	return nil
}

// Connected reports whether the relay connection is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Close shuts down the WebSocket connection. It is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.connected.Store(false)

		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
}

// Send publishes msg on the target's private topic.
func (c *Client) Send(msg domain.Message) error {
	data, err := encodeSignal(msg)
	if err != nil {
		return err
	}
	if !c.connected.Load() {
		return fmt.Errorf("%w: send %s", domain.ErrChannelUnavailable, msg.Type)
	}
	if err := c.writeFrame(frame{Op: opPublish, Topic: PrivateTopic(msg.Target), Body: data}); err != nil {
		return fmt.Errorf("%w: send %s: %v", domain.ErrChannelUnavailable, msg.Type, err)
	}
	c.log.Debugf(">>> %s to %s", msg.Type, msg.Target)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token := c.opts.Token
	if c.opts.TokenSource != nil {
		var err error
		if token, err = c.opts.TokenSource(ctx); err != nil {
			return nil, fmt.Errorf("%w: relay token: %v", domain.ErrChannelUnavailable, err)
		}
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	c.log.Infof("connecting to %s", c.opts.URL)
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial: %v", domain.ErrChannelUnavailable, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	for _, topic := range []string{PrivateTopic(c.opts.Self), ErrorTopic} {
		if err := c.writeFrame(frame{Op: opSubscribe, Topic: topic}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: subscribe %s: %v", domain.ErrChannelUnavailable, topic, err)
		}
	}

	c.connected.Store(true)
	c.log.Infof("subscribed as %s", c.opts.Self)
	return conn, nil
}

func (c *Client) writeFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("no connection")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// run reads frames until the connection drops, then reconnects and
// resubscribes. Nothing sent while down is replayed.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		err := c.readLoop(conn)
		if c.isClosed() {
			return
		}

		c.connected.Store(false)
		c.log.Warnf("relay connection lost: %v", err)
		c.handler.OnChannelError(fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err))

		conn = c.reconnect()
		if conn == nil {
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warnf("unmarshal frame: %v", err)
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	switch f.Op {
	case opMessage:
		if f.Topic == ErrorTopic {
			c.handler.OnChannelError(relayError(f.Body))
			return
		}
		if f.Topic != PrivateTopic(c.opts.Self) {
			c.log.Debugf("ignoring message on foreign topic %s", f.Topic)
			return
		}
		msg, err := decodeSignal(f.Body)
		if err != nil {
			c.log.Warnf("%v", err)
			return
		}
		c.log.Debugf("<<< %s from %s", msg.Type, msg.Sender)
		c.handler.OnSignal(msg)

	case opError:
		c.handler.OnChannelError(fmt.Errorf("%w: %s", domain.ErrRelay, f.Message))

	case opAck:
		// no-op

	default:
		c.log.Warnf("unhandled op: %s", f.Op)
	}
}

func (c *Client) reconnect() *websocket.Conn {
	delay := c.opts.ReconnectMin
	for {
		select {
		case <-c.closed:
			return nil
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			if c.isClosed() {
				conn.Close()
				return nil
			}
			c.log.Info("relay connection restored")
			return conn
		}

		c.log.Warnf("reconnect failed: %v", err)
		delay *= 2
		if delay > c.opts.ReconnectMax {
			delay = c.opts.ReconnectMax
		}
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if !c.connected.Load() {
				continue
			}
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.mu.Unlock()
			if err != nil {
				c.log.Warnf("ping error: %v", err)
			}
		}
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
