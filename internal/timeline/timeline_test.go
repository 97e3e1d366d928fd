package timeline

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/tlk/internal/bus"
	"github.com/matheus3301/tlk/internal/chat"
)

var me = chat.Profile{ID: "me", Username: "me"}

func openWith(t *testing.T, tl *Timeline, conv string, history ...chat.Message) {
	t.Helper()
	gen := tl.Open(conv)
	if !tl.Replace(gen, history) {
		t.Fatal("Replace() rejected current generation")
	}
}

func countID(v View, id string) int {
	n := 0
	for _, m := range v.Messages {
		if m.ID.String() == id {
			n++
		}
	}
	return n
}

func TestSendLocalThenConfirm(t *testing.T) {
	tl := New(nil)
	openWith(t, tl, "c1")

	pending, err := tl.SendLocal(chat.Draft{Content: "hi"}, me)
	if err != nil {
		t.Fatal(err)
	}
	if !pending.ID.IsPending() || pending.ID.String() != "temp-1" {
		t.Fatalf("pending id = %q, want temp-1", pending.ID)
	}
	if pending.Sender.ID != "me" {
		t.Errorf("sender = %q, want me", pending.Sender.ID)
	}

	if err := tl.ConfirmSend(pending.ID, msg("m-1", "hi")); err != nil {
		t.Fatal(err)
	}
	v := tl.View()
	if len(v.Messages) != 1 || v.Messages[0].ID.String() != "m-1" {
		t.Errorf("timeline = %v, want exactly [m-1]", ids(v.Messages))
	}
}

// TestPushBeforeConfirm covers the race where the push channel delivers the
// authoritative message before the send request returns.
func TestPushBeforeConfirm(t *testing.T) {
	tl := New(nil)
	openWith(t, tl, "c1")

	pending, err := tl.SendLocal(chat.Draft{Content: "hi"}, me)
	if err != nil {
		t.Fatal(err)
	}
	if !tl.ApplyPush(msg("m-42", "hi")) {
		t.Fatal("ApplyPush() should append the real message")
	}
	if err := tl.ConfirmSend(pending.ID, msg("m-42", "hi")); err != nil {
		t.Fatal(err)
	}

	v := tl.View()
	if len(v.Messages) != 1 {
		t.Fatalf("timeline = %v, want one entry", ids(v.Messages))
	}
	if v.Messages[0].ID.String() != "m-42" || v.Messages[0].Content != "hi" {
		t.Errorf("entry = %s %q, want m-42 \"hi\"", v.Messages[0].ID, v.Messages[0].Content)
	}
}

// TestCompletionOrdersConverge checks that every interleaving of the push
// delivery and the send acknowledgement ends in the same timeline.
func TestCompletionOrdersConverge(t *testing.T) {
	orders := map[string][]string{
		"confirm only":       {"confirm"},
		"confirm then push":  {"confirm", "push"},
		"push then confirm":  {"push", "confirm"},
		"push twice confirm": {"push", "push", "confirm"},
		"confirm push push":  {"confirm", "push", "push"},
	}
	for name, steps := range orders {
		t.Run(name, func(t *testing.T) {
			tl := New(nil)
			openWith(t, tl, "c1", msg("m-1", "earlier"))
			pending, err := tl.SendLocal(chat.Draft{Content: "hi"}, me)
			if err != nil {
				t.Fatal(err)
			}
			real := msg("m-42", "hi")
			for _, s := range steps {
				switch s {
				case "confirm":
					if err := tl.ConfirmSend(pending.ID, real); err != nil {
						t.Fatal(err)
					}
				case "push":
					tl.ApplyPush(real)
				}
			}
			v := tl.View()
			if got := ids(v.Messages); len(got) != 2 || got[0] != "m-1" || got[1] != "m-42" {
				t.Errorf("timeline = %v, want [m-1 m-42]", got)
			}
			if countID(v, pending.ID.String()) != 0 {
				t.Error("pending entry left behind")
			}
		})
	}
}

func TestFailSendRemovesPending(t *testing.T) {
	tl := New(nil)
	openWith(t, tl, "c1")

	pending, err := tl.SendLocal(chat.Draft{Content: "oops"}, me)
	if err != nil {
		t.Fatal(err)
	}
	if err := tl.FailSend(pending.ID); err != nil {
		t.Fatal(err)
	}
	if n := len(tl.View().Messages); n != 0 {
		t.Errorf("timeline has %d entries, want 0", n)
	}
	if err := tl.FailSend(pending.ID); !errors.Is(err, ErrUnknownPending) {
		t.Errorf("second FailSend() error = %v, want ErrUnknownPending", err)
	}
}

func TestSendLocalUsesPreview(t *testing.T) {
	tl := New(nil)
	openWith(t, tl, "c1")

	pending, err := tl.SendLocal(chat.Draft{Kind: chat.KindImage, MediaURL: "https://cdn/x.png", PreviewURL: "blob:local"}, me)
	if err != nil {
		t.Fatal(err)
	}
	if pending.MediaURL != "blob:local" {
		t.Errorf("MediaURL = %q, want local preview", pending.MediaURL)
	}
	if pending.Kind != chat.KindImage {
		t.Errorf("Kind = %q, want image", pending.Kind)
	}
}

func TestSendLocalRequiresOpenConversation(t *testing.T) {
	tl := New(nil)
	if _, err := tl.SendLocal(chat.Draft{Content: "hi"}, me); !errors.Is(err, ErrNotOpen) {
		t.Errorf("error = %v, want ErrNotOpen", err)
	}

	openWith(t, tl, "c1")
	if _, err := tl.SendLocal(chat.Draft{ConversationID: "c2", Content: "hi"}, me); !errors.Is(err, ErrNotOpen) {
		t.Errorf("mismatched draft error = %v, want ErrNotOpen", err)
	}
}

func TestApplyPushIgnoresOtherConversations(t *testing.T) {
	tl := New(nil)
	openWith(t, tl, "c1")

	other := msg("m-9", "elsewhere")
	other.ConversationID = "c2"
	if tl.ApplyPush(other) {
		t.Error("ApplyPush() appended a message from another conversation")
	}
}

func TestStaleReplaceIsDiscarded(t *testing.T) {
	tl := New(nil)
	oldGen := tl.Open("c1")
	newGen := tl.Open("c2")

	if tl.Replace(oldGen, []chat.Message{msg("m-1", "old")}) {
		t.Error("Replace() accepted a stale generation")
	}
	if !tl.Replace(newGen, nil) {
		t.Error("Replace() rejected the current generation")
	}
	if v := tl.View(); v.ConversationID != "c2" || len(v.Messages) != 0 {
		t.Errorf("view = %+v, want empty c2", v)
	}
}

func TestOpenClearsAndLoadFailure(t *testing.T) {
	tl := New(nil)
	openWith(t, tl, "c1", msg("m-1", "a"))

	gen := tl.Open("c2")
	v := tl.View()
	if len(v.Messages) != 0 || !v.Loading {
		t.Errorf("after Open: %d messages loading=%v, want 0 true", len(v.Messages), v.Loading)
	}
	tl.MarkLoadFailed(gen)
	if v := tl.View(); !v.LoadFailed || v.Loading {
		t.Errorf("after failure: loadFailed=%v loading=%v", v.LoadFailed, v.Loading)
	}
}

func TestConfirmAfterConversationSwitch(t *testing.T) {
	tl := New(nil)
	openWith(t, tl, "c1")
	pending, err := tl.SendLocal(chat.Draft{Content: "hi"}, me)
	if err != nil {
		t.Fatal(err)
	}
	openWith(t, tl, "c2")

	if err := tl.ConfirmSend(pending.ID, msg("m-1", "hi")); !errors.Is(err, ErrUnknownPending) {
		t.Errorf("error = %v, want ErrUnknownPending", err)
	}
	if n := len(tl.View().Messages); n != 0 {
		t.Errorf("c2 timeline has %d entries, want 0", n)
	}
}

func TestPushDuringHistoryLoadSurvives(t *testing.T) {
	tl := New(nil)
	gen := tl.Open("c1")

	tl.ApplyPush(msg("m-2", "pushed"))
	tl.ApplyPush(msg("m-3", "also in history"))
	if !tl.Replace(gen, []chat.Message{msg("m-1", "old"), msg("m-3", "also in history")}) {
		t.Fatal("Replace() rejected current generation")
	}

	got := ids(tl.View().Messages)
	want := []string{"m-1", "m-3", "m-2"}
	if len(got) != len(want) {
		t.Fatalf("timeline = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("timeline = %v, want %v", got, want)
		}
	}
}

func TestSendDuringHistoryLoadConfirmsOnce(t *testing.T) {
	tl := New(nil)
	gen := tl.Open("c1")

	pending, err := tl.SendLocal(chat.Draft{Content: "hi"}, me)
	if err != nil {
		t.Fatal(err)
	}
	if !tl.Replace(gen, []chat.Message{msg("m-1", "old")}) {
		t.Fatal("Replace() rejected current generation")
	}
	if err := tl.ConfirmSend(pending.ID, msg("m-42", "hi")); err != nil {
		t.Fatalf("ConfirmSend() = %v", err)
	}

	v := tl.View()
	if countID(v, "m-42") != 1 || countID(v, pending.ID.String()) != 0 {
		t.Errorf("timeline = %v, want m-42 exactly once and no pending entry", ids(v.Messages))
	}
	if len(v.Messages) != 2 {
		t.Errorf("timeline = %v, want [m-1 m-42]", ids(v.Messages))
	}
}

func TestReplaceDeduplicatesHistory(t *testing.T) {
	tl := New(nil)
	openWith(t, tl, "c1", msg("m-1", "a"), msg("m-1", "a"), msg("m-2", "b"))
	if got := ids(tl.View().Messages); len(got) != 2 {
		t.Errorf("timeline = %v, want 2 entries", got)
	}
}

func TestScrollRequests(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(10, "timeline.scroll")
	defer unsub()

	tl := New(b)
	openWith(t, tl, "c1")
	expectScroll(t, ch, false)

	if _, err := tl.SendLocal(chat.Draft{Content: "hi"}, me); err != nil {
		t.Fatal(err)
	}
	expectScroll(t, ch, true)

	tl.ApplyPush(msg("m-5", "yo"))
	expectScroll(t, ch, true)

	// A duplicate push does not scroll.
	tl.ApplyPush(msg("m-5", "yo"))
	select {
	case evt := <-ch:
		t.Errorf("unexpected scroll: %+v", evt.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func expectScroll(t *testing.T, ch <-chan bus.Event, smooth bool) {
	t.Helper()
	select {
	case evt := <-ch:
		req, ok := evt.Payload.(ScrollRequest)
		if !ok {
			t.Fatalf("payload = %T, want ScrollRequest", evt.Payload)
		}
		if req.Smooth != smooth {
			t.Errorf("smooth = %v, want %v", req.Smooth, smooth)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for scroll request")
	}
}
