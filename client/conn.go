package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"twitchtmi/events"
	"twitchtmi/irc"
	"twitchtmi/metrics"
	"twitchtmi/pkg/logger"
	"twitchtmi/queue"
)

// writeFloor is the minimum spacing between any two raw lines on the
// socket, beneath the per-class queue delays.
const writeFloor = 30 * time.Millisecond

// Client maintains one authenticated connection to the Twitch IRC
// gateway. Incoming lines are parsed and dispatched as events; outgoing
// commands go through per-class rate-limited queues and resolve against
// the correlated server NOTICE.
type Client struct {
	opts   Options
	log    logger.Logger
	events *events.Emitter

	mu                sync.Mutex
	state             ReadyState
	username          string
	password          string
	globalUserState   irc.Tags
	channels          map[string]*ChannelState
	rejoin            []string
	reconnectAttempts int
	reconnectDelay    time.Duration
	reconnecting      bool
	wasCloseCalled    bool
	noReconnect       bool
	latency           time.Duration
	lastPing          time.Time
	emoteSets         string

	conn       transport
	connCtx    context.Context
	connCancel context.CancelFunc
	writeMu    sync.Mutex
	limiter    *rate.Limiter

	joinQ *queue.Queue
	msgQ  *queue.Queue
	cmdQ  *queue.Queue

	recent  *cache[recentMessage]
	rosters *cache[[]string]

	// dialFunc is swapped out by tests for an in-memory transport.
	dialFunc func() (transport, error)
}

// New builds a client from opts. Missing fields take their defaults; an
// empty or token-less identity becomes a random justinfan login.
func New(opts Options) *Client {
	opts = opts.withDefaults()

	log := opts.Logger
	if log == nil {
		log = logger.NewWith(logger.Options{Level: opts.Logging.Level})
	}

	username := NormalizeUsername(opts.Identity.Username)
	password := normalizePassword(opts.Identity.Password)
	if password == "" && !isJustinfan(username) {
		username = justinfan()
	}

	c := &Client{
		opts:     opts,
		log:      log,
		username: username,
		password: password,
		channels: make(map[string]*ChannelState),
		recent:   newCache[recentMessage](1024, 2*time.Minute),
		rosters:  newCache[[]string](64, 10*time.Minute),
	}
	c.events = events.New(log)
	c.dialFunc = c.dialTransport
	return c
}

// On registers a listener for a public event. The returned id removes
// it via Off.
func (c *Client) On(event string, fn events.Listener) int64 {
	return c.events.On(event, fn)
}

// OnAsync registers a listener that runs on its own goroutine per
// emission.
func (c *Client) OnAsync(event string, fn events.Listener) int64 {
	return c.events.OnAsync(event, fn)
}

// Once registers a listener removed after its first invocation.
func (c *Client) Once(event string, fn events.Listener) int64 {
	return c.events.Once(event, fn)
}

// Off removes a listener registered with On, OnAsync or Once.
func (c *Client) Off(event string, id int64) {
	c.events.Off(event, id)
}

// Connect dials the server and performs the login handshake, blocking
// until the welcome reply or failure. On failure the reconnect
// supervisor takes over when enabled.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: already connected (state %s)", ErrClient, c.state)
	}
	c.state = Connecting
	c.wasCloseCalled = false
	c.noReconnect = false
	c.mu.Unlock()

	if err := c.connectOnce(ctx); err != nil {
		c.mu.Lock()
		noReconnect := c.noReconnect
		c.mu.Unlock()
		if c.opts.reconnectEnabled() && !noReconnect {
			go c.reconnectLoop()
		}
		return err
	}
	return nil
}

// connectOnce performs a single dial + handshake attempt.
func (c *Client) connectOnce(ctx context.Context) error {
	t, err := c.dialFunc()
	if err != nil {
		c.setState(Closed)
		return fmt.Errorf("%w: %s", ErrClient, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.state = Connecting
	c.conn = t
	c.connCtx, c.connCancel = connCtx, cancel
	c.limiter = rate.NewLimiter(rate.Every(writeFloor), 1)
	c.joinQ = queue.New(c.opts.JoinInterval)
	c.msgQ = queue.New(c.opts.MessageInterval)
	c.cmdQ = queue.New(c.opts.CommandInterval)
	username, password := c.username, c.password
	c.mu.Unlock()

	c.log.Info("connecting", "server", c.opts.Connection.Server, "port", c.opts.Connection.Port)

	wait, cancelWait := c.events.Waiter("_connected", nil)
	defer cancelWait()

	caps := "twitch.tv/tags twitch.tv/commands twitch.tv/membership"
	if c.opts.SkipMembership {
		caps = "twitch.tv/tags twitch.tv/commands"
	}
	if err := c.writeRaw("CAP REQ :" + caps); err != nil {
		c.closeConn()
		return fmt.Errorf("%w: handshake write: %s", ErrClient, err)
	}
	if password != "" {
		if err := c.writeRaw("PASS " + password); err != nil {
			c.closeConn()
			return fmt.Errorf("%w: handshake write: %s", ErrClient, err)
		}
	}
	if err := c.writeRaw("NICK " + username); err != nil {
		c.closeConn()
		return fmt.Errorf("%w: handshake write: %s", ErrClient, err)
	}

	go c.readLoop(t, connCtx)

	args, err := c.waitHandshake(ctx, wait)
	if err != nil {
		c.closeConn()
		c.setState(Closed)
		return err
	}
	if len(args) > 0 && args[0] != nil {
		c.closeConn()
		c.setState(Closed)
		return fmt.Errorf("%w: %v", ErrAuthentication, args[0])
	}

	go c.pingLoop(connCtx)
	return nil
}

func (c *Client) waitHandshake(ctx context.Context, wait func(time.Duration) ([]any, error)) ([]any, error) {
	type result struct {
		args []any
		err  error
	}
	done := make(chan result, 1)
	go func() {
		args, err := wait(c.opts.Connection.Timeout)
		done <- result{args, err}
	}()

	select {
	case r := <-done:
		if errors.Is(r.err, events.ErrTimeout) {
			return nil, fmt.Errorf("%w: login handshake timed out", ErrClient)
		}
		return r.args, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop(t transport, ctx context.Context) {
	for {
		line, err := t.ReadLine()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.log.Warn("connection read failed", "error", err.Error())
			c.handleDisconnect("connection closed")
			return
		}
		c.handleLine(line)
	}
}

// writeRaw sends one line on the socket, serialized by the write mutex
// and spaced by the connection-wide limiter.
func (c *Client) writeRaw(line string) error {
	c.mu.Lock()
	t := c.conn
	ctx := c.connCtx
	limiter := c.limiter
	c.mu.Unlock()

	if t == nil || ctx == nil {
		return ErrNotConnected
	}
	if err := limiter.Wait(ctx); err != nil {
		return ErrNotConnected
	}

	c.log.Trace("write", "line", line)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return t.WriteLine(line)
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Connection.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			c.lastPing = time.Now()
			c.mu.Unlock()
			c.emit("ping")
			if err := c.writeRaw("PING :tmi.twitch.tv"); err != nil {
				return
			}
		}
	}
}

// Disconnect closes the connection on user request, suppressing the
// reconnect supervisor.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.wasCloseCalled = true
	c.mu.Unlock()

	c.handleDisconnect("Connection closed.")
	return nil
}

// handleDisconnect tears the connection down, emits disconnected and
// hands control to the reconnect supervisor when allowed.
func (c *Client) handleDisconnect(reason string) {
	c.mu.Lock()
	if c.state == Closed || c.state == Closing {
		c.mu.Unlock()
		return
	}
	c.state = Closing
	wasClose := c.wasCloseCalled
	noReconnect := c.noReconnect
	if len(c.channels) > 0 {
		rejoin := make([]string, 0, len(c.channels))
		for ch := range c.channels {
			rejoin = append(rejoin, ch)
		}
		sort.Strings(rejoin)
		c.rejoin = rejoin
		c.channels = make(map[string]*ChannelState)
	}
	c.mu.Unlock()

	c.closeConn()
	c.setState(Closed)
	metrics.ConnectionUp.Set(0)
	c.log.Info("disconnected", "reason", reason)
	c.emit("disconnected", reason)

	if c.opts.reconnectEnabled() && !wasClose && !noReconnect {
		go c.reconnectLoop()
	}
}

// closeConn stops the queue workers, cancels the connection context and
// closes the transport. Safe to call repeatedly.
func (c *Client) closeConn() {
	c.mu.Lock()
	t := c.conn
	cancel := c.connCancel
	joinQ, msgQ, cmdQ := c.joinQ, c.msgQ, c.cmdQ
	c.conn = nil
	c.connCancel = nil
	c.mu.Unlock()

	for _, q := range []*queue.Queue{joinQ, msgQ, cmdQ} {
		if q != nil {
			q.Stop()
		}
	}
	if cancel != nil {
		cancel()
	}

	// let an in-flight write drain before closing the socket
	c.writeMu.Lock()
	c.writeMu.Unlock() //nolint:staticcheck

	if t != nil {
		_ = t.Close()
	}
}

// reconnectLoop is the supervisor: it waits the decaying backoff delay
// and redials until a connection sticks or attempts run out.
func (c *Client) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.wasCloseCalled || c.noReconnect {
			c.mu.Unlock()
			return
		}
		maxAttempts := c.opts.Connection.MaxReconnectAttempts
		if maxAttempts > 0 && c.reconnectAttempts >= maxAttempts {
			c.mu.Unlock()
			c.log.Warn("giving up on reconnecting")
			c.emit("disconnected", "Maximum reconnection attempts reached")
			return
		}
		c.reconnectAttempts++
		c.reconnectDelay = c.nextReconnectDelay(c.reconnectDelay)
		delay := c.reconnectDelay
		c.reconnecting = true
		c.state = Connecting
		c.mu.Unlock()

		metrics.Reconnects.Inc()
		c.log.Info("reconnecting", "delay", delay.String())
		time.Sleep(delay)

		c.mu.Lock()
		stop := c.wasCloseCalled || c.noReconnect
		c.mu.Unlock()
		if stop {
			return
		}

		err := c.connectOnce(context.Background())
		if err == nil {
			return
		}
		c.log.Warn("reconnect attempt failed", "error", err.Error())
		if errors.Is(err, ErrAuthentication) {
			return
		}
	}
}

// nextReconnectDelay grows the backoff by the configured decay factor,
// clamped at the maximum interval.
func (c *Client) nextReconnectDelay(prev time.Duration) time.Duration {
	conn := c.opts.Connection
	if prev == 0 {
		return time.Duration(conn.ReconnectDecay * float64(conn.ReconnectInterval))
	}
	next := time.Duration(float64(prev) * conn.ReconnectDecay)
	if next > conn.MaxReconnectInterval {
		return conn.MaxReconnectInterval
	}
	return next
}

func (c *Client) setState(s ReadyState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) queues() (joinQ, msgQ, cmdQ *queue.Queue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinQ, c.msgQ, c.cmdQ
}

func (c *Client) emit(event string, args ...any) {
	metrics.EventsEmitted.Inc()
	c.events.Emit(event, args...)
}
