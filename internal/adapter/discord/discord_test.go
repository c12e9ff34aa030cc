package discord

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/discordgo"

	"web2pdfbot/internal/domain"
)

const selfID = "900"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeREST struct {
	sent        []*discordgo.MessageSend
	sentTo      []string
	attachments []string
	deleted     []string
	channels    map[string]*discordgo.Channel
	dm          *discordgo.Channel
}

func (f *fakeREST) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.sent = append(f.sent, data)
	f.sentTo = append(f.sentTo, channelID)
	for _, file := range data.Files {
		b, _ := io.ReadAll(file.Reader)
		f.attachments = append(f.attachments, string(b))
	}
	return &discordgo.Message{ID: "reply-" + channelID, ChannelID: channelID}, nil
}

func (f *fakeREST) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	f.deleted = append(f.deleted, channelID+"/"+messageID)
	return nil
}

func (f *fakeREST) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if ch, ok := f.channels[channelID]; ok {
		return ch, nil
	}
	return &discordgo.Channel{ID: channelID, Type: discordgo.ChannelTypeGuildText}, nil
}

func (f *fakeREST) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	return &discordgo.User{ID: userID, Username: "user" + userID}, nil
}

func (f *fakeREST) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return f.dm, nil
}

func newTestAdapter(cfg Config, api *fakeREST) *Adapter {
	cfg.Logger = testLogger()
	return newAdapter(cfg, api)
}

func guildMessage(guild, channel, id, author, content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: channel,
		GuildID:   guild,
		Content:   content,
		Author:    &discordgo.User{ID: author, Username: "alice", GlobalName: "Alice"},
		Type:      discordgo.MessageTypeDefault,
	}
}

func TestAdapter_HandleMessage(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(Config{}, &fakeREST{})

	ev, ok := a.handleMessage(guildMessage("g1", "c1", "m1", "u1", "https://example.com"), selfID)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Account != 1 || ev.Event.Kind != domain.EventIncomingMsg {
		t.Fatalf("unexpected event %+v", ev)
	}

	msg, err := a.GetMessage(ctx, 1, ev.Event.MsgID)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Text != "https://example.com" || msg.ChatID != ev.Event.ChatID || msg.IsInfo {
		t.Fatalf("unexpected message %+v", msg)
	}

	contact, err := a.GetContact(ctx, 1, msg.FromID)
	if err != nil || contact.DisplayName != "Alice" {
		t.Fatalf("unexpected contact %+v, %v", contact, err)
	}

	chat, err := a.GetBasicChatInfo(ctx, 1, ev.Event.ChatID)
	if err != nil || chat.Type != domain.ChatGroup {
		t.Fatalf("guild channel should be a group, got %+v, %v", chat, err)
	}
}

func TestAdapter_DirectMessageIsSingle(t *testing.T) {
	a := newTestAdapter(Config{GuildID: "g1"}, &fakeREST{})
	ev, ok := a.handleMessage(guildMessage("", "dm1", "m1", "u1", "example.com"), selfID)
	if !ok {
		t.Fatal("direct messages pass the guild filter")
	}
	chat, err := a.GetBasicChatInfo(context.Background(), 1, ev.Event.ChatID)
	if err != nil || chat.Type != domain.ChatSingle {
		t.Fatalf("expected single chat, got %+v, %v", chat, err)
	}
}

func TestAdapter_Filters(t *testing.T) {
	a := newTestAdapter(Config{GuildID: "g1"}, &fakeREST{})

	if _, ok := a.handleMessage(guildMessage("g1", "c1", "m1", selfID, "x"), selfID); ok {
		t.Error("own messages must be dropped")
	}
	if _, ok := a.handleMessage(guildMessage("g2", "c2", "m2", "u1", "x"), selfID); ok {
		t.Error("other guilds must be dropped")
	}
	if _, ok := a.handleMessage(&discordgo.Message{ID: "m3"}, selfID); ok {
		t.Error("messages without author must be dropped")
	}

	join := guildMessage("g1", "c1", "m4", "u1", "")
	join.Type = discordgo.MessageTypeGuildMemberJoin
	ev, ok := a.handleMessage(join, selfID)
	if !ok {
		t.Fatal("service messages are still reported")
	}
	msg, _ := a.GetMessage(context.Background(), 1, ev.Event.MsgID)
	if !msg.IsInfo {
		t.Error("member join should be an info message")
	}
}

func TestAdapter_SendFileReply(t *testing.T) {
	ctx := context.Background()
	api := &fakeREST{}
	a := newTestAdapter(Config{}, api)
	ev, _ := a.handleMessage(guildMessage("g1", "c1", "m1", "u1", "example.com"), selfID)

	path := filepath.Join(t.TempDir(), "page.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o600); err != nil {
		t.Fatal(err)
	}
	id, err := a.SendMsg(ctx, 1, ev.Event.ChatID, domain.MsgData{File: path, QuotedMessageID: ev.Event.MsgID})
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 || id == ev.Event.MsgID {
		t.Fatalf("reply needs its own id, got %d", id)
	}

	if len(api.sent) != 1 || api.sentTo[0] != "c1" {
		t.Fatalf("unexpected sends %v", api.sentTo)
	}
	send := api.sent[0]
	if send.Reference == nil || send.Reference.MessageID != "m1" {
		t.Fatalf("reply should reference m1, got %+v", send.Reference)
	}
	if len(send.Files) != 1 || send.Files[0].Name != "page.pdf" || api.attachments[0] != "%PDF-1.4" {
		t.Fatalf("unexpected attachment %+v", send.Files)
	}
}

func TestAdapter_SendMissingFile(t *testing.T) {
	a := newTestAdapter(Config{}, &fakeREST{})
	ev, _ := a.handleMessage(guildMessage("g1", "c1", "m1", "u1", "example.com"), selfID)
	if _, err := a.SendMsg(context.Background(), 1, ev.Event.ChatID, domain.MsgData{File: "/does/not/exist.pdf"}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAdapter_DeleteMessages(t *testing.T) {
	ctx := context.Background()

	api := &fakeREST{}
	a := newTestAdapter(Config{}, api)
	ev, _ := a.handleMessage(guildMessage("g1", "c1", "m1", "u1", "x"), selfID)
	if err := a.DeleteMessages(ctx, 1, []domain.MsgID{ev.Event.MsgID}); err != nil {
		t.Fatal(err)
	}
	if len(api.deleted) != 0 {
		t.Fatalf("expected local delete only, got %v", api.deleted)
	}
	if _, err := a.GetMessage(ctx, 1, ev.Event.MsgID); err == nil {
		t.Fatal("message should be forgotten")
	}

	api = &fakeREST{}
	a = newTestAdapter(Config{DeleteFromServer: true}, api)
	ev, _ = a.handleMessage(guildMessage("g1", "c1", "m1", "u1", "x"), selfID)
	if err := a.DeleteMessages(ctx, 1, []domain.MsgID{ev.Event.MsgID}); err != nil {
		t.Fatal(err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "c1/m1" {
		t.Fatalf("unexpected server deletes %v", api.deleted)
	}
}

func TestAdapter_CreateChatByContact(t *testing.T) {
	ctx := context.Background()
	api := &fakeREST{dm: &discordgo.Channel{ID: "dm9", Type: discordgo.ChannelTypeDM}}
	a := newTestAdapter(Config{}, api)
	ev, _ := a.handleMessage(guildMessage("g1", "c1", "m1", "u1", "x"), selfID)
	msg, _ := a.GetMessage(ctx, 1, ev.Event.MsgID)

	chatID, err := a.CreateChatByContactID(ctx, 1, msg.FromID)
	if err != nil {
		t.Fatal(err)
	}
	chat, err := a.GetBasicChatInfo(ctx, 1, chatID)
	if err != nil || chat.Type != domain.ChatSingle {
		t.Fatalf("dm should be single, got %+v, %v", chat, err)
	}
	if _, err := a.SendMsg(ctx, 1, chatID, domain.MsgData{Text: "hello"}); err != nil {
		t.Fatal(err)
	}
	if api.sentTo[0] != "dm9" {
		t.Fatalf("expected send to dm9, got %s", api.sentTo[0])
	}
}

func TestAdapter_SingleAccount(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(Config{}, &fakeREST{})
	ids, _ := a.AccountIDs(ctx)
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("unexpected accounts %v", ids)
	}
	if err := a.SetConfig(ctx, 2, "displayname", "x"); err == nil {
		t.Fatal("expected unknown account error")
	}
	if err := a.SetConfig(ctx, 1, "displayname", "Web to PDF"); err != nil {
		t.Fatal(err)
	}
	if v, _ := a.GetConfig(ctx, 1, "displayname"); v != "Web to PDF" {
		t.Fatalf("got %q", v)
	}
}
