package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/tlk/internal/api"
	tlkv1 "github.com/matheus3301/tlk/internal/api/tlkv1"
	"github.com/matheus3301/tlk/internal/backend"
	"github.com/matheus3301/tlk/internal/bus"
	"github.com/matheus3301/tlk/internal/call"
	"github.com/matheus3301/tlk/internal/chat"
	"github.com/matheus3301/tlk/internal/client"
	"github.com/matheus3301/tlk/internal/config"
	"github.com/matheus3301/tlk/internal/inbox"
	"github.com/matheus3301/tlk/internal/lock"
	"github.com/matheus3301/tlk/internal/media"
	"github.com/matheus3301/tlk/internal/messenger"
	"github.com/matheus3301/tlk/internal/status"
	"github.com/matheus3301/tlk/internal/store"
	"github.com/matheus3301/tlk/internal/timeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// restBackend is an in-memory stand-in for the REST API.
type restBackend struct {
	mu      sync.Mutex
	reads   []string
	signals []string
}

func (rb *restBackend) handler() http.Handler {
	ana := chat.Profile{ID: "ana", FirstName: "Ana"}
	me := chat.Profile{ID: "me", FirstName: "Me"}

	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /api/users/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, me)
	})
	mux.HandleFunc("GET /api/messages/conversations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []chat.Conversation{
			{ID: "c1", Participants: []chat.Profile{me, ana}, OtherParticipant: ana, UnreadCount: 1},
		})
	})
	mux.HandleFunc("GET /api/messages/auth/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"token": "t"})
	})
	mux.HandleFunc("GET /api/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []chat.Message{
			{ID: chat.Confirmed("m-1"), Sender: ana, Content: "hello there", Kind: chat.KindText, CreatedAt: time.Now()},
		})
	})
	mux.HandleFunc("POST /api/messages", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ConversationID string `json:"conversationId"`
			Content        string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, chat.Message{ID: chat.Confirmed("m-100"), ConversationID: body.ConversationID, Sender: me, Content: body.Content, Kind: chat.KindText, CreatedAt: time.Now()})
	})
	mux.HandleFunc("POST /api/messages/{id}/read", func(w http.ResponseWriter, r *http.Request) {
		rb.mu.Lock()
		rb.reads = append(rb.reads, r.PathValue("id"))
		rb.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /api/messages/start", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": chat.Conversation{ID: "c2", OtherParticipant: chat.Profile{ID: "bob", FirstName: "Bob"}}})
	})
	mux.HandleFunc("POST /api/calls/signal", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type string `json:"type"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		rb.mu.Lock()
		rb.signals = append(rb.signals, body.Type)
		rb.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

type harness struct {
	client   *client.Client
	machine  *status.Machine
	calls    *call.Machine
	db       *store.DB
	rest     *restBackend
	messages *messenger.Messenger
}

func newHarness(t *testing.T, devices media.Devices) *harness {
	t.Helper()
	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	tmpDir, err := os.MkdirTemp("/tmp", "tlk-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })

	rest := &restBackend{}
	srv := httptest.NewServer(rest.handler())
	t.Cleanup(srv.Close)

	db, err := store.Open(filepath.Join(tmpDir, "tlk.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	bc, err := backend.New(backend.Config{URL: srv.URL, Token: "secret"}, logger)
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	machine := status.NewMachine(b)
	tl := timeline.New(b)
	in := inbox.New(bc, tl, b, logger)
	calls := call.NewMachine(CallConfig(config.Default().Call), devices, bc, b, logger)
	t.Cleanup(calls.Close)
	msgr := messenger.New(bc, in, tl, db, b, logger)
	msgr.SetSelf(chat.Profile{ID: "me"})
	calls.SetSelf(call.Party{ID: "me"})

	server, err := NewServer(
		Params{SessionName: "test", SocketPath: filepath.Join(tmpDir, "d.sock")},
		logger,
		api.NewSessionService("test", machine, msgr, in, db),
		api.NewConversationService("test", in, tl, msgr, bc, db, b),
		api.NewCallService(calls, in, db),
	)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = server.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Stop(ctx)
	})

	c, err := client.New(filepath.Join(tmpDir, "d.sock"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return &harness{client: c, machine: machine, calls: calls, db: db, rest: rest, messages: msgr}
}

func TestDaemonLifecycle(t *testing.T) {
	h := newHarness(t, media.StaticDevices{Microphone: true, Camera: true})
	ctx := context.Background()

	st, err := h.client.Session.GetStatus(ctx, &tlkv1.Empty{})
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if st.Session != "test" || st.Status != string(status.Booting) {
		t.Errorf("status = %+v, want test/BOOTING", st)
	}

	list, err := h.client.Conversation.Reload(ctx, &tlkv1.ListConversationsRequest{})
	if err != nil {
		t.Fatalf("Reload error = %v", err)
	}
	if len(list.Conversations) != 1 || list.TotalUnread != 1 {
		t.Fatalf("conversations = %+v", list)
	}
	filtered, err := h.client.Conversation.ListConversations(ctx, &tlkv1.ListConversationsRequest{Query: "AN"})
	if err != nil || len(filtered.Conversations) != 1 {
		t.Fatalf("ListConversations(AN) = %+v, %v, want the conversation with Ana", filtered, err)
	}
	filtered, err = h.client.Conversation.ListConversations(ctx, &tlkv1.ListConversationsRequest{Query: "bob"})
	if err != nil || len(filtered.Conversations) != 0 || filtered.TotalUnread != 1 {
		t.Fatalf("ListConversations(bob) = %+v, %v, want none with total unread 1", filtered, err)
	}

	opened, err := h.client.Conversation.Open(ctx, &tlkv1.ConversationRequest{ConversationID: "c1"})
	if err != nil {
		t.Fatalf("Open error = %v", err)
	}
	if opened.Timeline.ConversationID != "c1" || len(opened.Timeline.Messages) != 1 {
		t.Errorf("timeline = %+v", opened.Timeline)
	}

	sent, err := h.client.Conversation.Send(ctx, &tlkv1.SendRequest{Content: "hello back"})
	if err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if sent.Message.ID.String() != "m-100" || sent.Message.ConversationID != "c1" {
		t.Errorf("sent = %+v", sent.Message)
	}

	tlResp, err := h.client.Conversation.GetTimeline(ctx, &tlkv1.Empty{})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(tlResp.Timeline.Messages); n != 2 {
		t.Errorf("timeline has %d messages, want 2", n)
	}

	found, err := h.client.Conversation.Search(ctx, &tlkv1.SearchRequest{Query: "hello"})
	if err != nil {
		t.Fatalf("Search error = %v", err)
	}
	if len(found.Results) != 2 {
		t.Errorf("search results = %d, want 2", len(found.Results))
	}

	st, err = h.client.Session.GetStatus(ctx, &tlkv1.Empty{})
	if err != nil {
		t.Fatal(err)
	}
	if st.ConversationCount != 1 || st.UnreadCount != 0 || st.MessageCount != 2 || st.ProfileID != "me" {
		t.Errorf("status = %+v", st)
	}

	started, err := h.client.Conversation.Start(ctx, &tlkv1.StartConversationRequest{RecipientID: "bob"})
	if err != nil {
		t.Fatalf("Start error = %v", err)
	}
	if started.Conversation.ID != "c2" {
		t.Errorf("started = %+v", started.Conversation)
	}
}

func TestConversationErrors(t *testing.T) {
	h := newHarness(t, media.StaticDevices{})
	ctx := context.Background()

	_, err := h.client.Conversation.Send(ctx, &tlkv1.SendRequest{Content: "orphan"})
	if code := grpcstatus.Code(err); code != codes.FailedPrecondition {
		t.Errorf("Send without open conversation: code = %v, want FailedPrecondition", code)
	}

	_, err = h.client.Conversation.MarkRead(ctx, &tlkv1.ConversationRequest{ConversationID: "nope"})
	if code := grpcstatus.Code(err); code != codes.NotFound {
		t.Errorf("MarkRead unknown: code = %v, want NotFound", code)
	}

	_, err = h.client.Conversation.Search(ctx, &tlkv1.SearchRequest{})
	if code := grpcstatus.Code(err); code != codes.InvalidArgument {
		t.Errorf("empty Search: code = %v, want InvalidArgument", code)
	}
}

func TestCallService(t *testing.T) {
	h := newHarness(t, media.StaticDevices{Microphone: true})
	ctx := context.Background()

	if _, err := h.client.Conversation.Reload(ctx, &tlkv1.ListConversationsRequest{}); err != nil {
		t.Fatal(err)
	}

	_, err := h.client.Call.StartCall(ctx, &tlkv1.StartCallRequest{RecipientID: "ana", Video: true})
	if code := grpcstatus.Code(err); code != codes.PermissionDenied {
		t.Fatalf("video call without camera: code = %v, want PermissionDenied", code)
	}
	cur, err := h.client.Call.GetCall(ctx, &tlkv1.Empty{})
	if err != nil {
		t.Fatal(err)
	}
	if cur.Call.Status != call.StatusIdle {
		t.Errorf("status after denied media = %s, want idle", cur.Call.Status)
	}

	resp, err := h.client.Call.StartCall(ctx, &tlkv1.StartCallRequest{RecipientID: "ana"})
	if err != nil {
		t.Fatalf("StartCall error = %v", err)
	}
	if resp.Call.Status != call.StatusRinging || resp.Call.Remote.Name != "Ana" {
		t.Errorf("call = %+v, want ringing to Ana", resp.Call)
	}

	_, err = h.client.Call.StartCall(ctx, &tlkv1.StartCallRequest{RecipientID: "bob"})
	if code := grpcstatus.Code(err); code != codes.FailedPrecondition {
		t.Errorf("second call: code = %v, want FailedPrecondition", code)
	}

	mic, err := h.client.Call.ToggleMic(ctx, &tlkv1.Empty{})
	if err != nil {
		t.Fatal(err)
	}
	if mic.Enabled {
		t.Error("ToggleMic() should mute")
	}

	ended, err := h.client.Call.EndCall(ctx, &tlkv1.Empty{})
	if err != nil {
		t.Fatalf("EndCall error = %v", err)
	}
	if ended.Call.Status != call.StatusEnded || ended.Call.Reason != call.ReasonHangup {
		t.Errorf("call = %+v, want ended/hangup", ended.Call)
	}

	h.rest.mu.Lock()
	signals := append([]string(nil), h.rest.signals...)
	h.rest.mu.Unlock()
	if len(signals) != 2 || signals[0] != "call:invite" || signals[1] != "call:end" {
		t.Errorf("signals = %v, want invite then end", signals)
	}
}

func TestWatchCallStreamsSnapshots(t *testing.T) {
	h := newHarness(t, media.StaticDevices{Microphone: true})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.Call.WatchCall(ctx, &tlkv1.Empty{})
	if err != nil {
		t.Fatal(err)
	}
	first, err := stream.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if first.Call.Status != call.StatusIdle {
		t.Fatalf("first snapshot = %s, want idle", first.Call.Status)
	}

	h.calls.HandleSignal(ctx, call.Signal{Type: call.SignalInvite, Payload: call.Payload{
		CallID: "x1", From: "ana", Caller: &call.Party{ID: "ana", Name: "Ana"},
	}})

	next, err := stream.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if next.Call.Status != call.StatusRinging || !next.Call.Incoming || next.Call.CallID != "x1" {
		t.Errorf("snapshot = %+v, want incoming ringing x1", next.Call)
	}
}

func TestWatchEventsStreamsBus(t *testing.T) {
	h := newHarness(t, media.StaticDevices{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := h.client.Conversation.Reload(ctx, &tlkv1.ListConversationsRequest{}); err != nil {
		t.Fatal(err)
	}
	stream, err := h.client.Conversation.WatchEvents(ctx, &tlkv1.WatchEventsRequest{Namespaces: []string{"notify."}})
	if err != nil {
		t.Fatal(err)
	}

	// The subscription is registered asynchronously; keep delivering until an
	// event arrives.
	go func() {
		for i := 0; ctx.Err() == nil; i++ {
			h.messages.HandleIncoming(ctx, chat.IncomingMessage{
				ConversationID: "c1",
				Message:        chat.Message{ID: chat.Confirmed("p-" + string(rune('a'+i%26))), Sender: chat.Profile{ID: "ana", FirstName: "Ana"}, Content: "ping"},
			})
			time.Sleep(20 * time.Millisecond)
		}
	}()

	evt, err := stream.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != bus.NotifyMessage || evt.Session != "test" || evt.EventID == "" {
		t.Errorf("event = %+v", evt)
	}
	var n bus.Notice
	if err := json.Unmarshal(evt.Payload, &n); err != nil {
		t.Fatal(err)
	}
	if n.Title != "New message from Ana" || n.Body != "ping" {
		t.Errorf("notice = %+v", n)
	}
}

func TestBootstrapHandsProfileToComponents(t *testing.T) {
	b := bus.New()
	machine := status.NewMachine(b)
	var (
		got     []string
		started = make(chan string, 1)
	)
	boot := &Bootstrap{
		Profile:  profileFunc(func(ctx context.Context) (chat.Profile, error) { return chat.Profile{ID: "me"}, nil }),
		Inbox:    loadFunc(func(ctx context.Context) error { return nil }),
		SetSelf:  []func(chat.Profile){func(p chat.Profile) { got = append(got, p.ID) }},
		Realtime: subscriberFunc(func(ctx context.Context, id string) { started <- id }),
		State:    machine,
	}
	if err := boot.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "me" {
		t.Errorf("SetSelf got %v", got)
	}
	if id := <-started; id != "me" {
		t.Errorf("realtime started for %q", id)
	}
}

func TestBootstrapRetriesTransientFailure(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	boot := &Bootstrap{
		Profile: profileFunc(func(ctx context.Context) (chat.Profile, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				return chat.Profile{}, errors.New("connection refused")
			}
			return chat.Profile{ID: "me"}, nil
		}),
		Inbox:      loadFunc(func(ctx context.Context) error { return nil }),
		Realtime:   subscriberFunc(func(ctx context.Context, id string) {}),
		State:      status.NewMachine(nil),
		MinBackoff: time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	}
	if err := boot.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if boot.State.Current() != status.Offline {
		t.Errorf("state = %s, want OFFLINE until realtime connects", boot.State.Current())
	}
}

func TestBootstrapStopsOnUnauthorized(t *testing.T) {
	machine := status.NewMachine(nil)
	boot := &Bootstrap{
		Profile: profileFunc(func(ctx context.Context) (chat.Profile, error) {
			return chat.Profile{}, &backend.StatusError{Method: "GET", Path: "/api/users/me", Code: http.StatusUnauthorized}
		}),
		Inbox:      loadFunc(func(ctx context.Context) error { return nil }),
		Realtime:   subscriberFunc(func(ctx context.Context, id string) { t.Error("realtime must not start") }),
		State:      machine,
		MinBackoff: time.Millisecond,
	}
	if err := boot.Run(context.Background()); !backend.IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("Run() error = %v, want 401", err)
	}
	if machine.Current() != status.Error {
		t.Errorf("state = %s, want ERROR", machine.Current())
	}
}

func TestBootstrapCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	boot := &Bootstrap{
		Profile: profileFunc(func(ctx context.Context) (chat.Profile, error) {
			cancel()
			return chat.Profile{}, ctx.Err()
		}),
		Inbox:    loadFunc(func(ctx context.Context) error { return nil }),
		Realtime: subscriberFunc(func(ctx context.Context, id string) {}),
	}
	if err := boot.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

type profileFunc func(ctx context.Context) (chat.Profile, error)

func (f profileFunc) Me(ctx context.Context) (chat.Profile, error) { return f(ctx) }

type loadFunc func(ctx context.Context) error

func (f loadFunc) Load(ctx context.Context) error { return f(ctx) }

type subscriberFunc func(ctx context.Context, userID string)

func (f subscriberFunc) Start(ctx context.Context, userID string) { f(ctx, userID) }

// TestFxModuleWiring starts the whole module against a fake backend and an
// unreachable push service, then stops it.
func TestFxModuleWiring(t *testing.T) {
	// Use /tmp for short socket paths (macOS 104-char limit).
	home, err := os.MkdirTemp("/tmp", "tlk-fx-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(home) }()
	t.Setenv("TLK_HOME", home)

	rest := &restBackend{}
	srv := httptest.NewServer(rest.handler())
	defer srv.Close()

	cfg := config.Default()
	cfg.Backend.URL = srv.URL
	cfg.Realtime.URL = "ws://127.0.0.1:1/ws"
	cfg.Log.Level = "error"

	app := fx.New(
		Module(Params{SessionName: "fxtest", Config: cfg}),
		fx.NopLogger,
	)
	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		t.Fatalf("app.Start() error = %v", err)
	}

	c, err := client.New(filepath.Join(home, "sessions", "fxtest", "daemon.sock"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		st, err := c.Session.GetStatus(startCtx, &tlkv1.Empty{})
		if err == nil && st.ProfileID == "me" && st.ConversationCount == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never bootstrapped: %+v, %v", st, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("app.Stop() error = %v", err)
	}
	if pid, err := lock.Holder(filepath.Join(home, "sessions", "fxtest", "LOCK")); err != nil || pid != 0 {
		t.Errorf("session lock holder after stop = %d, %v, want released", pid, err)
	}
}
