package local

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"web2pdfbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func collect(t *testing.T, a *Adapter) []domain.AccountEvent {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	var got []domain.AccountEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-a.Events():
			if !ok {
				if err := <-done; err != nil {
					t.Fatal(err)
				}
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out")
		}
	}
}

func TestAdapter_LinesBecomeMessages(t *testing.T) {
	ctx := context.Background()
	a := New(Config{In: strings.NewReader("example.com\n\n  /help  \n"), Out: &bytes.Buffer{}, Logger: testLogger()})

	events := collect(t, a)
	if len(events) != 3 {
		t.Fatalf("expected greeting and 2 messages, got %d", len(events))
	}

	greet := events[0].Event
	if greet.Kind != domain.EventSecureJoinInviterProgress || greet.Progress != domain.PairingComplete || greet.ContactID != userContact {
		t.Fatalf("unexpected greeting %+v", greet)
	}

	var texts []string
	for _, ev := range events[1:] {
		if ev.Event.Kind != domain.EventIncomingMsg || ev.Event.ChatID != chatID {
			t.Fatalf("unexpected event %+v", ev)
		}
		m, err := a.GetMessage(ctx, 1, ev.Event.MsgID)
		if err != nil {
			t.Fatal(err)
		}
		texts = append(texts, m.Text)
	}
	if texts[0] != "example.com" || texts[1] != "/help" {
		t.Fatalf("unexpected texts %q", texts)
	}
}

func TestAdapter_QuitStops(t *testing.T) {
	a := New(Config{In: strings.NewReader("one.example\n/quit\ntwo.example\n"), Out: &bytes.Buffer{}, Logger: testLogger()})
	events := collect(t, a)
	if len(events) != 2 {
		t.Fatalf("expected greeting and one message, got %d", len(events))
	}
}

func TestAdapter_SendText(t *testing.T) {
	ctx := context.Background()
	out := &bytes.Buffer{}
	a := New(Config{In: strings.NewReader(""), Out: out, Logger: testLogger()})
	a.SetConfig(ctx, 1, domain.ConfigDisplayName, "Web to PDF")

	if _, err := a.SendMsg(ctx, 1, chatID, domain.MsgData{Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); !strings.Contains(got, "--- Web to PDF ---\nhello\n") {
		t.Fatalf("unexpected output %q", got)
	}
	if strings.Contains(out.String(), "you> ") {
		t.Fatal("no prompt when input is not a terminal")
	}
	if _, err := a.SendMsg(ctx, 1, 7, domain.MsgData{Text: "x"}); err == nil {
		t.Fatal("expected error for unknown chat")
	}
}

func TestAdapter_SendFileIsSaved(t *testing.T) {
	ctx := context.Background()
	outDir := t.TempDir()
	out := &bytes.Buffer{}
	a := New(Config{In: strings.NewReader(""), Out: out, OutputDir: outDir, Logger: testLogger()})

	src := filepath.Join(t.TempDir(), "web2pdf-123.pdf")
	if err := os.WriteFile(src, []byte("%PDF-1.4"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := a.SendMsg(ctx, 1, chatID, domain.MsgData{File: src}); err != nil {
		t.Fatal(err)
	}
	os.Remove(src)

	saved := filepath.Join(outDir, "web2pdf-123.pdf")
	data, err := os.ReadFile(saved)
	if err != nil || string(data) != "%PDF-1.4" {
		t.Fatalf("file not saved: %v", err)
	}
	if !strings.Contains(out.String(), saved) {
		t.Fatalf("output should name the saved file, got %q", out.String())
	}
}

func TestAdapter_ChatAndContacts(t *testing.T) {
	ctx := context.Background()
	a := New(Config{In: strings.NewReader(""), Out: &bytes.Buffer{}, UserName: "alice", Logger: testLogger()})

	chat, err := a.GetBasicChatInfo(ctx, 1, chatID)
	if err != nil || chat.Type != domain.ChatSingle {
		t.Fatalf("unexpected chat %+v, %v", chat, err)
	}
	user, err := a.GetContact(ctx, 1, userContact)
	if err != nil || user.IsBot || user.DisplayName != "alice" {
		t.Fatalf("unexpected user %+v, %v", user, err)
	}
	self, _ := a.GetContact(ctx, 1, selfContact)
	if !self.IsBot {
		t.Fatal("self contact is the bot")
	}
	id, err := a.CreateChatByContactID(ctx, 1, userContact)
	if err != nil || id != chatID {
		t.Fatalf("unexpected chat id %d, %v", id, err)
	}
}

func TestAdapter_DeleteForgets(t *testing.T) {
	ctx := context.Background()
	a := New(Config{In: strings.NewReader(""), Out: &bytes.Buffer{}, Logger: testLogger()})
	ev := a.lineEvent("example.com")
	if err := a.DeleteMessages(ctx, 1, []domain.MsgID{ev.Event.MsgID}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.GetMessage(ctx, 1, ev.Event.MsgID); err == nil {
		t.Fatal("deleted message should be gone")
	}
}
