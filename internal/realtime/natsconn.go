package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSDialer connects to the push service through a NATS server. Channel
// names map to subjects with ':' replaced by '.', so "user:42" is
// published on "user.42". Message bodies are JSON {name, data}.
type NATSDialer struct {
	URL  string
	Name string
}

// Subject maps a channel name to its NATS subject.
func Subject(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

// Dial implements Dialer.
func (d NATSDialer) Dial(ctx context.Context, token string) (Conn, error) {
	name := d.Name
	if name == "" {
		name = "tlkd"
	}
	c := &natsConn{
		msgs:     make(chan *nats.Msg, 256),
		closed:   make(chan struct{}),
		channels: make(map[string]string),
	}
	opts := []nats.Option{
		nats.Name(name),
		// Reconnects are driven by the realtime client so that a fresh
		// token is used every time.
		nats.NoReconnect(),
		nats.ClosedHandler(func(*nats.Conn) { c.markClosed(nats.ErrConnectionClosed) }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = nats.ErrDisconnected
			}
			c.markClosed(err)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	type result struct {
		nc  *nats.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(d.URL, opts...)
		ch <- result{nc, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("nats connect %s: %w", d.URL, r.err)
		}
		c.nc = r.nc
		return c, nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.nc != nil {
				r.nc.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

type natsConn struct {
	nc   *nats.Conn
	msgs chan *nats.Msg

	mu       sync.Mutex
	channels map[string]string
	subs     []*nats.Subscription
	closed   chan struct{}
	err      error
}

func (c *natsConn) Subscribe(ctx context.Context, channels ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		subject := Subject(ch)
		sub, err := c.nc.ChanSubscribe(subject, c.msgs)
		if err != nil {
			return fmt.Errorf("nats subscribe %s: %w", subject, err)
		}
		c.channels[subject] = ch
		c.subs = append(c.subs, sub)
	}
	return c.nc.FlushWithContext(ctx)
}

func (c *natsConn) Next(ctx context.Context) (Frame, error) {
	for {
		select {
		case m := <-c.msgs:
			var f Frame
			if err := json.Unmarshal(m.Data, &f); err != nil {
				return Frame{}, fmt.Errorf("nats decode %s: %w", m.Subject, err)
			}
			c.mu.Lock()
			f.Channel = c.channels[m.Subject]
			c.mu.Unlock()
			if f.Name == "" {
				continue
			}
			return f, nil
		case <-c.closed:
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return Frame{}, err
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

func (c *natsConn) Close() error {
	c.mu.Lock()
	for _, s := range c.subs {
		_ = s.Unsubscribe()
	}
	c.subs = nil
	c.mu.Unlock()
	c.nc.Close()
	c.markClosed(nats.ErrConnectionClosed)
	return nil
}

func (c *natsConn) markClosed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return
	default:
	}
	if err == nil {
		err = nats.ErrConnectionClosed
	}
	c.err = fmt.Errorf("nats: %w", err)
	close(c.closed)
}
