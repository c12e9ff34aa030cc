package bot

import (
	"context"
	"errors"
	"testing"

	"web2pdfbot/internal/domain"
)

func TestRouter_RawHandlersSeeEveryEvent(t *testing.T) {
	client := newFakeClient(1)
	r := NewRouter(client, testLogger())

	var kinds []domain.EventKind
	r.OnEvent("rec", func(ctx context.Context, acc domain.AccountID, ev domain.Event) {
		kinds = append(kinds, ev.Kind)
	})

	r.Dispatch(context.Background(), domain.AccountEvent{Account: 1, Event: domain.Event{Kind: domain.EventInfo}})
	r.Dispatch(context.Background(), domain.AccountEvent{Account: 1, Event: domain.Event{Kind: domain.EventUnknown, Raw: "Foo"}})

	if len(kinds) != 2 || kinds[0] != domain.EventInfo || kinds[1] != domain.EventUnknown {
		t.Fatalf("unexpected kinds %v", kinds)
	}
}

func TestRouter_MessageRoutesThenAfter(t *testing.T) {
	client := newFakeClient(1)
	ev := client.addMessage(domain.Message{ID: 7, ChatID: 3, Text: "/help"}, domain.ChatSingle)
	r := NewRouter(client, testLogger())

	var order []string
	r.After("after", func(ctx context.Context, acc domain.AccountID, msg NewMessage) {
		order = append(order, "after")
	})
	r.OnMessage("any", nil, func(ctx context.Context, acc domain.AccountID, msg NewMessage) {
		order = append(order, "any")
	})
	r.OnCommand("/help", func(ctx context.Context, acc domain.AccountID, msg NewMessage) {
		if msg.Command != "/help" {
			t.Errorf("expected parsed command, got %q", msg.Command)
		}
		order = append(order, "help")
	})
	r.OnCommand("/other", func(ctx context.Context, acc domain.AccountID, msg NewMessage) {
		order = append(order, "other")
	})

	r.Dispatch(context.Background(), ev)

	want := []string{"any", "help", "after"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestRouter_NotInfoFilter(t *testing.T) {
	client := newFakeClient(1)
	ev := client.addMessage(domain.Message{ID: 7, ChatID: 3, Text: "member added", IsInfo: true}, domain.ChatGroup)
	r := NewRouter(client, testLogger())

	called := false
	r.OnMessage("content", NotInfo(), func(ctx context.Context, acc domain.AccountID, msg NewMessage) {
		called = true
	})
	r.Dispatch(context.Background(), ev)

	if called {
		t.Fatal("info messages should not reach NotInfo handlers")
	}
}

func TestRouter_HasCommand(t *testing.T) {
	r := NewRouter(newFakeClient(), testLogger())
	r.OnCommand("/help", func(context.Context, domain.AccountID, NewMessage) {})

	if !r.HasCommand("/help") {
		t.Fatal("expected /help to be registered")
	}
	if r.HasCommand("/start") || r.HasCommand("") {
		t.Fatal("unexpected command reported")
	}
}

func TestRouter_FetchErrorStillRunsAfter(t *testing.T) {
	client := newFakeClient(1)
	client.getMsgErr = errors.New("rpc down")
	r := NewRouter(client, testLogger())

	contentCalled := false
	var afterMsg NewMessage
	r.OnMessage("content", nil, func(context.Context, domain.AccountID, NewMessage) { contentCalled = true })
	r.After("after", func(ctx context.Context, acc domain.AccountID, msg NewMessage) { afterMsg = msg })

	r.Dispatch(context.Background(), domain.AccountEvent{
		Account: 1,
		Event:   domain.Event{Kind: domain.EventIncomingMsg, ChatID: 4, MsgID: 9},
	})

	if contentCalled {
		t.Fatal("content handlers need the message body")
	}
	if afterMsg.ID != 9 || afterMsg.ChatID != 4 {
		t.Fatalf("after handler should get ids from the event, got %+v", afterMsg.Message)
	}
}

func TestRouter_RecoversPanics(t *testing.T) {
	client := newFakeClient(1)
	ev := client.addMessage(domain.Message{ID: 1, ChatID: 1, Text: "x"}, domain.ChatSingle)
	r := NewRouter(client, testLogger())

	afterCalled := false
	r.OnMessage("boom", nil, func(context.Context, domain.AccountID, NewMessage) { panic("boom") })
	r.After("after", func(context.Context, domain.AccountID, NewMessage) { afterCalled = true })

	r.Dispatch(context.Background(), ev)

	if !afterCalled {
		t.Fatal("a panicking handler must not stop later handlers")
	}
}
