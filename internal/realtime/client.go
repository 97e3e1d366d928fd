// Package realtime keeps the daemon subscribed to the hosted push service.
// Message pushes are published on the bus as rt.message events; call
// signals are handed to the call machine.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/tlk/internal/bus"
	"github.com/matheus3301/tlk/internal/call"
	"github.com/matheus3301/tlk/internal/status"
	"go.uber.org/zap"
)

// Drivers accepted by NewDialer.
const (
	DriverWebsocket = "websocket"
	DriverNATS      = "nats"
)

const (
	defaultMinBackoff = time.Second
	defaultMaxBackoff = 30 * time.Second
)

var errTokenRefresh = errors.New("realtime: token refresh due")

// Conn is one authenticated connection to the push service.
type Conn interface {
	Subscribe(ctx context.Context, channels ...string) error
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Dialer opens connections with a token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// NewDialer returns the dialer for driver.
func NewDialer(driver, url string) (Dialer, error) {
	switch driver {
	case "", DriverWebsocket:
		return WSDialer{URL: url}, nil
	case DriverNATS:
		return NATSDialer{URL: url}, nil
	default:
		return nil, fmt.Errorf("realtime: unknown driver %q", driver)
	}
}

// TokenSource issues push service tokens.
type TokenSource interface {
	RealtimeToken(ctx context.Context) (string, error)
}

// SignalHandler receives call signals.
type SignalHandler interface {
	HandleSignal(ctx context.Context, sig call.Signal)
}

// Client maintains the subscription and reconnects with backoff.
type Client struct {
	dialer        Dialer
	tokens        TokenSource
	signals       SignalHandler
	state         *status.Machine
	bus           *bus.Bus
	logger        *zap.Logger
	refreshMargin time.Duration
	minBackoff    time.Duration
	maxBackoff    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a client. signals may be nil when calls are not handled.
func NewClient(dialer Dialer, tokens TokenSource, signals SignalHandler, state *status.Machine, b *bus.Bus, refreshMargin time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		dialer:        dialer,
		tokens:        tokens,
		signals:       signals,
		state:         state,
		bus:           b,
		logger:        logger,
		refreshMargin: refreshMargin,
		minBackoff:    defaultMinBackoff,
		maxBackoff:    defaultMaxBackoff,
	}
}

// Start connects in the background and subscribes to the channels of
// userID. It returns immediately.
func (c *Client) Start(ctx context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.run(ctx, userID)
	}()
}

// Stop disconnects and waits for the client to finish.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Client) run(ctx context.Context, userID string) {
	backoff := c.minBackoff
	first := true
	for {
		if first {
			c.setState(status.Connecting)
		} else {
			c.setState(status.Reconnecting)
			c.setState(status.Connecting)
		}
		first = false

		online, err := c.session(ctx, userID)
		if ctx.Err() != nil {
			c.setState(status.Offline)
			c.logger.Info("realtime stopped")
			return
		}
		if errors.Is(err, errTokenRefresh) {
			c.logger.Info("realtime token refresh")
			backoff = c.minBackoff
			continue
		}
		if online {
			backoff = c.minBackoff
		}
		c.setState(status.Reconnecting)
		c.logger.Warn("realtime connection lost", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			c.setState(status.Offline)
			return
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// session runs one connection until it fails or the token must be
// refreshed. It reports whether the connection came online.
func (c *Client) session(ctx context.Context, userID string) (bool, error) {
	token, err := c.tokens.RealtimeToken(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch token: %w", err)
	}

	connCtx := ctx
	if d := refreshDelay(token, c.refreshMargin, time.Now()); d > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeoutCause(ctx, d, errTokenRefresh)
		defer cancel()
	}

	conn, err := c.dialer.Dial(connCtx, token)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	channels := []string{UserChannel(userID), CallChannel(userID)}
	if err := conn.Subscribe(connCtx, channels...); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	c.setState(status.Online)
	c.logger.Info("realtime online", zap.Strings("channels", channels))

	for {
		f, err := conn.Next(connCtx)
		if err != nil {
			if cause := context.Cause(connCtx); errors.Is(cause, errTokenRefresh) {
				return true, errTokenRefresh
			}
			return true, err
		}
		c.dispatch(ctx, f)
	}
}

func (c *Client) dispatch(ctx context.Context, f Frame) {
	switch {
	case strings.HasPrefix(f.Channel, CallChannelPrefix):
		sig, ok, err := DecodeSignal(f)
		if err != nil {
			c.logger.Warn("bad call frame", zap.String("name", f.Name), zap.Error(err))
			return
		}
		if ok && c.signals != nil {
			c.signals.HandleSignal(ctx, sig)
		}
	default:
		in, ok, err := DecodeMessage(f)
		if err != nil {
			c.logger.Warn("bad message frame", zap.String("name", f.Name), zap.Error(err))
			return
		}
		if ok {
			c.bus.Emit(bus.RealtimeMessage, in)
		}
	}
}

func (c *Client) setState(to status.State) {
	if c.state == nil {
		return
	}
	if err := c.state.Ensure(to); err != nil {
		c.logger.Warn("status transition rejected", zap.String("to", string(to)), zap.Error(err))
	}
}
