package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/tlk/internal/bus"
	"github.com/matheus3301/tlk/internal/call"
	"github.com/matheus3301/tlk/internal/chat"
	"github.com/matheus3301/tlk/internal/status"
)

type staticTokens struct{ token string }

func (s staticTokens) RealtimeToken(ctx context.Context) (string, error) { return s.token, nil }

type fakeConn struct {
	frames   chan Frame
	fail     chan error
	mu       sync.Mutex
	channels []string
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan Frame, 16), fail: make(chan error, 1)}
}

func (c *fakeConn) Subscribe(ctx context.Context, channels ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = append(c.channels, channels...)
	return nil
}

func (c *fakeConn) Next(ctx context.Context) (Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.fail:
		return Frame{}, err
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	tokens []string
	dialed chan *fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, token string) (Conn, error) {
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.tokens = append(d.tokens, token)
	d.mu.Unlock()
	d.dialed <- c
	return c, nil
}

type signalRecorder struct {
	ch chan call.Signal
}

func (r *signalRecorder) HandleSignal(ctx context.Context, sig call.Signal) {
	r.ch <- sig
}

func waitConn(t *testing.T, d *fakeDialer) *fakeConn {
	t.Helper()
	select {
	case c := <-d.dialed:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for dial")
		return nil
	}
}

func waitState(t *testing.T, m *status.Machine, want status.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Current() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", m.Current(), want)
}

func TestClientDispatch(t *testing.T) {
	b := bus.New()
	msgs, unsub := b.Subscribe(4, "rt.")
	defer unsub()

	state := status.NewMachine(b)
	dialer := &fakeDialer{dialed: make(chan *fakeConn, 4)}
	signals := &signalRecorder{ch: make(chan call.Signal, 4)}
	c := NewClient(dialer, staticTokens{"tok"}, signals, state, b, time.Minute, nil)
	c.Start(context.Background(), "me")
	defer c.Stop()

	conn := waitConn(t, dialer)
	waitState(t, state, status.Online)

	conn.mu.Lock()
	subscribed := strings.Join(conn.channels, ",")
	conn.mu.Unlock()
	if subscribed != "user:me,calls:me" {
		t.Errorf("channels = %s", subscribed)
	}

	conn.frames <- Frame{
		Channel: "user:me",
		Name:    "event",
		Data:    json.RawMessage(`{"type":"message:new","conversationId":"c1","message":{"_id":"m-1","content":"hi"}}`),
	}
	select {
	case evt := <-msgs:
		in, ok := evt.Payload.(chat.IncomingMessage)
		if evt.Kind != bus.RealtimeMessage || !ok || in.Message.ID.String() != "m-1" {
			t.Errorf("event = %s %+v", evt.Kind, evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for rt.message")
	}

	conn.frames <- Frame{Channel: "calls:me", Name: "call:end", Data: json.RawMessage(`{"callId":"x"}`)}
	select {
	case sig := <-signals.ch:
		if sig.Type != call.SignalEnd || sig.CallID != "x" {
			t.Errorf("signal = %+v", sig)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for signal")
	}
}

func TestClientReconnects(t *testing.T) {
	state := status.NewMachine(nil)
	dialer := &fakeDialer{dialed: make(chan *fakeConn, 4)}
	c := NewClient(dialer, staticTokens{"tok"}, nil, state, nil, 0, nil)
	c.minBackoff = 5 * time.Millisecond
	c.maxBackoff = 20 * time.Millisecond
	c.Start(context.Background(), "me")

	first := waitConn(t, dialer)
	waitState(t, state, status.Online)

	first.fail <- errors.New("connection reset")
	second := waitConn(t, dialer)
	waitState(t, state, status.Online)

	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Error("failed connection not closed")
	}
	if second == first {
		t.Error("reconnect reused the old connection")
	}

	c.Stop()
	if got := state.Current(); got != status.Offline {
		t.Errorf("state after Stop = %s, want OFFLINE", got)
	}
}

func TestNewDialer(t *testing.T) {
	if d, err := NewDialer("", "ws://x"); err != nil || d.(WSDialer).URL != "ws://x" {
		t.Errorf("default driver = %v, %v", d, err)
	}
	if _, err := NewDialer(DriverNATS, "nats://x"); err != nil {
		t.Error(err)
	}
	if _, err := NewDialer("carrier-pigeon", ""); err == nil {
		t.Error("unknown driver accepted")
	}
}

func TestWebsocketConn(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var req subscribeRequest
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		// Acknowledgement without a name is skipped by the reader.
		_ = ws.WriteJSON(map[string]any{"channels": req.Channels})
		_ = ws.WriteJSON(Frame{Channel: req.Channels[0], Name: "message:new", Data: json.RawMessage(`{"conversationId":"c1","message":{"_id":"m-7"}}`)})
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := WSDialer{URL: url}.Dial(ctx, "tok")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if auth := <-gotAuth; auth != "Bearer tok" {
		t.Errorf("Authorization = %q", auth)
	}

	if err := conn.Subscribe(ctx, UserChannel("me")); err != nil {
		t.Fatal(err)
	}
	f, err := conn.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.Channel != "user:me" || f.Name != "message:new" {
		t.Errorf("frame = %+v", f)
	}
	in, ok, err := DecodeMessage(f)
	if err != nil || !ok || in.Message.ID.String() != "m-7" {
		t.Errorf("DecodeMessage() = %+v %v %v", in, ok, err)
	}
}
