package signal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"campus_call/native/internal/domain"

	"github.com/pion/logging"
	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the redis relay client.
type RedisOptions struct {
	Addr          string
	Password      string
	DB            int
	Self          domain.ParticipantID
	LoggerFactory logging.LoggerFactory
}

// RedisClient carries signaling over redis pub/sub channels named like the
// websocket relay topics. go-redis reconnects and resubscribes on its own.
// It implements domain.Signaler.
type RedisClient struct {
	rdb     *redis.Client
	self    domain.ParticipantID
	handler domain.SignalHandler
	log     logging.LeveledLogger

	pubsub    *redis.PubSub
	connected atomic.Bool
	started   atomic.Bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRedisClient creates a redis relay client delivering inbound traffic to handler.
func NewRedisClient(opts RedisOptions, handler domain.SignalHandler) *RedisClient {
	lf := opts.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &RedisClient{
		rdb: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		self:    opts.Self,
		handler: handler,
		log:     lf.NewLogger("signal"),
	}
}

// Connect pings redis and subscribes to the private and error channels.
func (c *RedisClient) Connect(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: signaling client already connected", domain.ErrInvalidState)
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.started.Store(false)
		return fmt.Errorf("%w: redis ping: %v", domain.ErrChannelUnavailable, err)
	}

	ps := c.rdb.Subscribe(ctx, PrivateTopic(c.self), ErrorTopic)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		c.started.Store(false)
		return fmt.Errorf("%w: redis subscribe: %v", domain.ErrChannelUnavailable, err)
	}
	c.pubsub = ps
	c.connected.Store(true)
	c.log.Infof("subscribed as %s", c.self)

	c.wg.Add(1)
	go c.readLoop(ps.Channel(redis.WithChannelHealthCheckInterval(15 * time.Second)))
	return nil
}

// Connected reports whether the last redis operation succeeded.
func (c *RedisClient) Connected() bool {
	return c.connected.Load()
}

// Send publishes msg on the target's channel.
func (c *RedisClient) Send(msg domain.Message) error {
	data, err := encodeSignal(msg)
	if err != nil {
		return err
	}
	if c.pubsub == nil {
		return fmt.Errorf("%w: send %s: not connected", domain.ErrChannelUnavailable, msg.Type)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := c.rdb.Publish(ctx, PrivateTopic(msg.Target), data).Err(); err != nil {
		if c.connected.Swap(false) {
			c.handler.OnChannelError(fmt.Errorf("%w: %v", domain.ErrChannelUnavailable, err))
		}
		return fmt.Errorf("%w: send %s: %v", domain.ErrChannelUnavailable, msg.Type, err)
	}
	c.connected.Store(true)
	c.log.Debugf(">>> %s to %s", msg.Type, msg.Target)
	return nil
}

// Close unsubscribes and closes the redis client. It is idempotent.
func (c *RedisClient) Close() {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		if c.pubsub != nil {
			c.pubsub.Close()
		}
		c.rdb.Close()
	})
	c.wg.Wait()
}

func (c *RedisClient) readLoop(ch <-chan *redis.Message) {
	defer c.wg.Done()

	for m := range ch {
		c.connected.Store(true)
		c.dispatch(m.Channel, []byte(m.Payload))
	}
}

func (c *RedisClient) dispatch(channel string, payload []byte) {
	if channel == ErrorTopic {
		c.handler.OnChannelError(relayError(payload))
		return
	}
	msg, err := decodeSignal(payload)
	if err != nil {
		c.log.Warnf("%v", err)
		return
	}
	c.log.Debugf("<<< %s from %s", msg.Type, msg.Sender)
	c.handler.OnSignal(msg)
}
