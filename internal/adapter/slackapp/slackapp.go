// Package slackapp serves the bot as a Slack app over Socket Mode.
package slackapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"web2pdfbot/internal/adapter"
	"web2pdfbot/internal/adapter/idmap"
	"web2pdfbot/internal/domain"
)

const (
	name        = "slack"
	accountID   = domain.AccountID(1)
	eventBuffer = 64
)

// webAPI is the subset of *slack.Client the adapter uses.
type webAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
}

// Config configures the Slack adapter.
type Config struct {
	BotToken         string // xoxb-...
	AppToken         string // xapp-..., required by Socket Mode
	DeleteFromServer bool
	Settings         adapter.ConfigStore
	Logger           *slog.Logger
}

type messageRef struct {
	channel  string
	ts       string
	threadTS string
	msg      domain.Message
}

// Adapter implements domain.Adapter for one Slack workspace.
type Adapter struct {
	client    *slack.Client
	api       webAPI
	deleteSrv bool
	settings  adapter.ConfigStore
	logger    *slog.Logger

	botUID string
	botID  string

	msgs  *idmap.Map[messageRef]
	chats *idmap.Map[string]
	users *idmap.Map[string]

	mu       sync.Mutex
	chatType map[string]domain.ChatType

	events chan domain.AccountEvent
}

func New(cfg Config) (*Adapter, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, errors.New("slack: bot token and app token are required")
	}
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	a := newAdapter(cfg, client)
	a.client = client
	return a, nil
}

func newAdapter(cfg Config, api webAPI) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Settings == nil {
		cfg.Settings = adapter.NewMemoryConfig()
	}
	return &Adapter{
		api:       api,
		deleteSrv: cfg.DeleteFromServer,
		settings:  cfg.Settings,
		logger:    cfg.Logger.With("adapter", name),
		msgs:      idmap.New[messageRef](idmap.DefaultSize),
		chats:     idmap.New[string](idmap.DefaultSize),
		users:     idmap.New[string](idmap.DefaultSize),
		chatType:  make(map[string]domain.ChatType),
		events:    make(chan domain.AccountEvent, eventBuffer),
	}
}

func (a *Adapter) Name() string { return name }

func checkAccount(acc domain.AccountID) error {
	if acc != accountID {
		return fmt.Errorf("slack: unknown account %d", acc)
	}
	return nil
}

func (a *Adapter) AccountIDs(context.Context) ([]domain.AccountID, error) {
	return []domain.AccountID{accountID}, nil
}

func (a *Adapter) GetConfig(ctx context.Context, acc domain.AccountID, key string) (string, error) {
	if err := checkAccount(acc); err != nil {
		return "", err
	}
	return a.settings.Get(ctx, acc, key)
}

func (a *Adapter) SetConfig(ctx context.Context, acc domain.AccountID, key, value string) error {
	if err := checkAccount(acc); err != nil {
		return err
	}
	return a.settings.Set(ctx, acc, key, value)
}

func (a *Adapter) DeleteMessages(ctx context.Context, acc domain.AccountID, ids []domain.MsgID) error {
	if err := checkAccount(acc); err != nil {
		return err
	}
	for _, id := range ids {
		ref, ok := a.msgs.Get(int64(id))
		if !ok {
			continue
		}
		a.msgs.Delete(int64(id))
		if !a.deleteSrv || ref.ts == "" {
			continue
		}
		if _, _, err := a.api.DeleteMessageContext(ctx, ref.channel, ref.ts); err != nil {
			a.logger.Warn("cannot delete slack message", "channel", ref.channel, "ts", ref.ts, "err", err)
		}
	}
	return nil
}

func (a *Adapter) GetMessage(_ context.Context, acc domain.AccountID, id domain.MsgID) (domain.Message, error) {
	if err := checkAccount(acc); err != nil {
		return domain.Message{}, err
	}
	ref, ok := a.msgs.Get(int64(id))
	if !ok {
		return domain.Message{}, fmt.Errorf("slack: unknown message %d", id)
	}
	m := ref.msg
	m.ID = id
	return m, nil
}

func (a *Adapter) GetBasicChatInfo(ctx context.Context, acc domain.AccountID, id domain.ChatID) (domain.BasicChat, error) {
	if err := checkAccount(acc); err != nil {
		return domain.BasicChat{}, err
	}
	channel, ok := a.chats.Get(int64(id))
	if !ok {
		return domain.BasicChat{}, fmt.Errorf("slack: unknown chat %d", id)
	}

	a.mu.Lock()
	typ, known := a.chatType[channel]
	a.mu.Unlock()
	if known {
		return domain.BasicChat{ID: id, Type: typ}, nil
	}

	ch, err := a.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channel})
	if err != nil {
		return domain.BasicChat{}, fmt.Errorf("slack conversation %s: %w", channel, err)
	}
	typ = domain.ChatGroup
	if ch.IsIM {
		typ = domain.ChatSingle
	}
	a.setChatType(channel, typ)
	return domain.BasicChat{ID: id, Name: ch.Name, Type: typ}, nil
}

func (a *Adapter) GetContact(ctx context.Context, acc domain.AccountID, id domain.ContactID) (domain.Contact, error) {
	if err := checkAccount(acc); err != nil {
		return domain.Contact{}, err
	}
	userID, ok := a.users.Get(int64(id))
	if !ok {
		return domain.Contact{}, fmt.Errorf("slack: unknown contact %d", id)
	}
	u, err := a.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("slack user %s: %w", userID, err)
	}
	display := u.Profile.DisplayName
	if display == "" {
		display = u.RealName
	}
	if display == "" {
		display = u.Name
	}
	return domain.Contact{ID: id, DisplayName: display, IsBot: u.IsBot}, nil
}

// CreateChatByContactID opens the direct message conversation with a user.
func (a *Adapter) CreateChatByContactID(ctx context.Context, acc domain.AccountID, id domain.ContactID) (domain.ChatID, error) {
	if err := checkAccount(acc); err != nil {
		return 0, err
	}
	userID, ok := a.users.Get(int64(id))
	if !ok {
		return 0, fmt.Errorf("slack: unknown contact %d", id)
	}
	ch, _, _, err := a.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{userID}})
	if err != nil {
		return 0, fmt.Errorf("slack open conversation: %w", err)
	}
	a.setChatType(ch.ID, domain.ChatSingle)
	return domain.ChatID(a.chats.Put(ch.ID, ch.ID)), nil
}

// SendMsg posts into the chat. A quoted message is answered in its thread.
func (a *Adapter) SendMsg(ctx context.Context, acc domain.AccountID, chat domain.ChatID, data domain.MsgData) (domain.MsgID, error) {
	if err := checkAccount(acc); err != nil {
		return 0, err
	}
	channel, ok := a.chats.Get(int64(chat))
	if !ok {
		return 0, fmt.Errorf("slack: unknown chat %d", chat)
	}

	var threadTS string
	if data.QuotedMessageID != 0 {
		if ref, ok := a.msgs.Get(int64(data.QuotedMessageID)); ok {
			threadTS = ref.threadTS
			if threadTS == "" {
				threadTS = ref.ts
			}
		}
	}
	sent := domain.Message{ChatID: chat, Text: data.Text, IsBot: true, FromSelf: true}

	if data.File != "" {
		info, err := os.Stat(data.File)
		if err != nil {
			return 0, fmt.Errorf("stat attachment: %w", err)
		}
		file, err := a.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			File:            data.File,
			FileSize:        int(info.Size()),
			Filename:        filepath.Base(data.File),
			Channel:         channel,
			ThreadTimestamp: threadTS,
			InitialComment:  data.Text,
		})
		if err != nil {
			return 0, fmt.Errorf("slack upload: %w", err)
		}
		id := a.msgs.Put("file/"+file.ID, messageRef{channel: channel, threadTS: threadTS, msg: sent})
		return domain.MsgID(id), nil
	}

	opts := []slack.MsgOption{slack.MsgOptionText(data.Text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, ts, err := a.api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return 0, fmt.Errorf("slack post: %w", err)
	}
	id := a.msgs.Put(channel+"/"+ts, messageRef{channel: channel, ts: ts, threadTS: threadTS, msg: sent})
	return domain.MsgID(id), nil
}

func (a *Adapter) Events() <-chan domain.AccountEvent { return a.events }

// Run connects over Socket Mode and blocks until ctx is done or the
// connection fails.
func (a *Adapter) Run(ctx context.Context) error {
	defer close(a.events)

	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	a.botUID, a.botID = auth.UserID, auth.BotID
	a.logger.Info("slack bot connected", "user", auth.User, "user_id", auth.UserID, "team", auth.Team)

	socket := socketmode.New(a.client)
	errCh := make(chan error, 1)
	go func() { errCh <- socket.RunContext(ctx) }()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("slack bot disconnecting")
			return nil
		case err := <-errCh:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("slack socket mode: %w", err)
		case evt, ok := <-socket.Events:
			if !ok {
				return nil
			}
			if evt.Request != nil {
				// unacknowledged requests are redelivered
				socket.Ack(*evt.Request)
			}
			ev, ok := a.handleSocketEvent(evt)
			if ok && !adapter.Emit(ctx, a.events, ev) {
				return nil
			}
		}
	}
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) handleSocketEvent(evt socketmode.Event) (domain.AccountEvent, bool) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		return infoEvent(domain.EventInfo, "connecting to Slack")
	case socketmode.EventTypeConnected:
		return infoEvent(domain.EventInfo, "connected to Slack")
	case socketmode.EventTypeConnectionError:
		return infoEvent(domain.EventWarning, "slack connection failed, retrying")
	case socketmode.EventTypeEventsAPI:
		api, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || api.Type != slackevents.CallbackEvent {
			return domain.AccountEvent{}, false
		}
		if msg, ok := api.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			return a.handleMessageEvent(msg)
		}
	}
	return domain.AccountEvent{}, false
}

func infoEvent(kind domain.EventKind, msg string) (domain.AccountEvent, bool) {
	return domain.AccountEvent{Account: accountID, Event: domain.Event{Kind: kind, Msg: msg}}, true
}

// skippedSubtypes are edits and deletions of earlier messages.
var skippedSubtypes = map[string]bool{
	"message_changed": true,
	"message_deleted": true,
	"message_replied": true,
}

// plainSubtypes carry user content; any other subtype is a service message.
var plainSubtypes = map[string]bool{
	"":                 true,
	"file_share":       true,
	"thread_broadcast": true,
	"bot_message":      true,
	"me_message":       true,
}

func (a *Adapter) handleMessageEvent(ev *slackevents.MessageEvent) (domain.AccountEvent, bool) {
	if skippedSubtypes[ev.SubType] {
		return domain.AccountEvent{}, false
	}
	if (a.botUID != "" && ev.User == a.botUID) || (a.botID != "" && ev.BotID == a.botID) {
		return domain.AccountEvent{}, false
	}

	if ev.ChannelType == "im" {
		a.setChatType(ev.Channel, domain.ChatSingle)
	} else if ev.ChannelType != "" {
		a.setChatType(ev.Channel, domain.ChatGroup)
	}

	chatID := a.chats.Put(ev.Channel, ev.Channel)
	var fromID int64
	if ev.User != "" {
		fromID = a.users.Put(ev.User, ev.User)
	}
	id := a.msgs.Put(ev.Channel+"/"+ev.TimeStamp, messageRef{
		channel:  ev.Channel,
		ts:       ev.TimeStamp,
		threadTS: ev.ThreadTimeStamp,
		msg: domain.Message{
			ChatID: domain.ChatID(chatID),
			FromID: domain.ContactID(fromID),
			Text:   ev.Text,
			IsInfo: !plainSubtypes[ev.SubType],
			IsBot:  ev.BotID != "" || ev.SubType == "bot_message",
		},
	})
	a.logger.Debug("slack message received", "user", ev.User, "channel", ev.Channel, "content_len", len(ev.Text))

	return domain.AccountEvent{
		Account: accountID,
		Event: domain.Event{
			Kind:   domain.EventIncomingMsg,
			Raw:    "message",
			ChatID: domain.ChatID(chatID),
			MsgID:  domain.MsgID(id),
		},
	}, true
}

func (a *Adapter) setChatType(channel string, typ domain.ChatType) {
	a.mu.Lock()
	a.chatType[channel] = typ
	a.mu.Unlock()
}

var _ domain.Adapter = (*Adapter)(nil)
