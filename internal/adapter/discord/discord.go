// Package discord serves the bot as a Discord bot user on a single account.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bwmarrin/discordgo"

	"web2pdfbot/internal/adapter"
	"web2pdfbot/internal/adapter/idmap"
	"web2pdfbot/internal/domain"
)

const (
	name        = "discord"
	accountID   = domain.AccountID(1)
	eventBuffer = 64
)

var errUnknownAccount = errors.New("discord: unknown account")

// restAPI is the subset of *discordgo.Session the adapter uses.
type restAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Config configures the Discord adapter.
type Config struct {
	Token            string
	GuildID          string // only serve this guild; direct messages always pass
	DeleteFromServer bool
	Settings         adapter.ConfigStore
	Logger           *slog.Logger
}

type messageRef struct {
	channelID string
	messageID string
	msg       domain.Message
}

// Adapter implements domain.Adapter over the Discord gateway.
type Adapter struct {
	token     string
	guildID   string
	deleteSrv bool
	settings  adapter.ConfigStore
	logger    *slog.Logger

	session *discordgo.Session
	api     restAPI

	msgs  *idmap.Map[messageRef]
	chats *idmap.Map[string] // channel ids
	users *idmap.Map[string] // user ids

	mu       sync.Mutex
	chatType map[string]domain.ChatType
	contacts map[string]domain.Contact

	events   chan domain.AccountEvent
	stop     chan struct{}
	emitMu   sync.RWMutex
	finished bool
}

// New prepares a session; the gateway connection is opened by Run.
func New(cfg Config) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: no bot token configured")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	// handlers must run in gateway order
	session.SyncEvents = true

	a := newAdapter(cfg, session)
	a.session = session
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		ev, ok := a.handleMessage(m.Message, s.State.User.ID)
		if ok {
			a.emit(ev)
		}
	})
	return a, nil
}

func newAdapter(cfg Config, api restAPI) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Settings == nil {
		cfg.Settings = adapter.NewMemoryConfig()
	}
	return &Adapter{
		token:     cfg.Token,
		guildID:   cfg.GuildID,
		deleteSrv: cfg.DeleteFromServer,
		settings:  cfg.Settings,
		logger:    cfg.Logger.With("adapter", name),
		api:       api,
		msgs:      idmap.New[messageRef](idmap.DefaultSize),
		chats:     idmap.New[string](idmap.DefaultSize),
		users:     idmap.New[string](idmap.DefaultSize),
		chatType:  make(map[string]domain.ChatType),
		contacts:  make(map[string]domain.Contact),
		events:    make(chan domain.AccountEvent, eventBuffer),
		stop:      make(chan struct{}),
	}
}

func (a *Adapter) Name() string { return name }

func (a *Adapter) AccountIDs(context.Context) ([]domain.AccountID, error) {
	return []domain.AccountID{accountID}, nil
}

func checkAccount(acc domain.AccountID) error {
	if acc != accountID {
		return fmt.Errorf("%w %d", errUnknownAccount, acc)
	}
	return nil
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
		if !a.deleteSrv {
			continue
		}
		if err := a.api.ChannelMessageDelete(ref.channelID, ref.messageID, discordgo.WithContext(ctx)); err != nil {
			a.logger.Warn("cannot delete discord message", "channel", ref.channelID, "msg", ref.messageID, "err", err)
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
		return domain.Message{}, fmt.Errorf("discord: unknown message %d", id)
	}
	m := ref.msg
	m.ID = id
	return m, nil
}

func (a *Adapter) GetBasicChatInfo(ctx context.Context, acc domain.AccountID, id domain.ChatID) (domain.BasicChat, error) {
	if err := checkAccount(acc); err != nil {
		return domain.BasicChat{}, err
	}
	channelID, ok := a.chats.Get(int64(id))
	if !ok {
		return domain.BasicChat{}, fmt.Errorf("discord: unknown chat %d", id)
	}

	a.mu.Lock()
	typ, known := a.chatType[channelID]
	a.mu.Unlock()
	if known {
		return domain.BasicChat{ID: id, Type: typ}, nil
	}

	ch, err := a.api.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return domain.BasicChat{}, fmt.Errorf("discord channel %s: %w", channelID, err)
	}
	typ = a.rememberChannel(ch)
	return domain.BasicChat{ID: id, Name: ch.Name, Type: typ}, nil
}

func (a *Adapter) GetContact(ctx context.Context, acc domain.AccountID, id domain.ContactID) (domain.Contact, error) {
	if err := checkAccount(acc); err != nil {
		return domain.Contact{}, err
	}
	userID, ok := a.users.Get(int64(id))
	if !ok {
		return domain.Contact{}, fmt.Errorf("discord: unknown contact %d", id)
	}

	a.mu.Lock()
	c, known := a.contacts[userID]
	a.mu.Unlock()
	if known {
		return c, nil
	}

	u, err := a.api.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return domain.Contact{}, fmt.Errorf("discord user %s: %w", userID, err)
	}
	return a.rememberUser(u), nil
}

// CreateChatByContactID opens the DM channel with a user.
func (a *Adapter) CreateChatByContactID(ctx context.Context, acc domain.AccountID, id domain.ContactID) (domain.ChatID, error) {
	if err := checkAccount(acc); err != nil {
		return 0, err
	}
	userID, ok := a.users.Get(int64(id))
	if !ok {
		return 0, fmt.Errorf("discord: unknown contact %d", id)
	}
	ch, err := a.api.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("discord open dm: %w", err)
	}
	a.rememberChannel(ch)
	return domain.ChatID(a.chats.Put(ch.ID, ch.ID)), nil
}

func (a *Adapter) SendMsg(ctx context.Context, acc domain.AccountID, chat domain.ChatID, data domain.MsgData) (domain.MsgID, error) {
	if err := checkAccount(acc); err != nil {
		return 0, err
	}
	channelID, ok := a.chats.Get(int64(chat))
	if !ok {
		return 0, fmt.Errorf("discord: unknown chat %d", chat)
	}

	send := &discordgo.MessageSend{Content: data.Text}
	if data.QuotedMessageID != 0 {
		if ref, ok := a.msgs.Get(int64(data.QuotedMessageID)); ok {
			send.Reference = &discordgo.MessageReference{MessageID: ref.messageID, ChannelID: ref.channelID}
		}
	}
	if data.File != "" {
		f, err := os.Open(data.File)
		if err != nil {
			return 0, fmt.Errorf("open attachment: %w", err)
		}
		defer f.Close()
		send.Files = []*discordgo.File{{
			Name:        filepath.Base(data.File),
			ContentType: "application/pdf",
			Reader:      f,
		}}
	}

	m, err := a.api.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("discord send: %w", err)
	}
	id := a.msgs.Put(channelID+"/"+m.ID, messageRef{
		channelID: channelID,
		messageID: m.ID,
		msg:       domain.Message{ChatID: chat, Text: data.Text, IsBot: true, FromSelf: true},
	})
	return domain.MsgID(id), nil
}

func (a *Adapter) Events() <-chan domain.AccountEvent { return a.events }

// Run connects to the gateway and blocks until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	defer a.finish()

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	a.logger.Info("discord bot connected", "user", a.session.State.User.Username)

	<-ctx.Done()
	close(a.stop)
	a.logger.Info("discord bot disconnecting")
	return a.session.Close()
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) emit(ev domain.AccountEvent) {
	a.emitMu.RLock()
	defer a.emitMu.RUnlock()
	if a.finished {
		return
	}
	select {
	case a.events <- ev:
	case <-a.stop:
	}
}

func (a *Adapter) finish() {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	a.finished = true
	close(a.events)
}

// handleMessage maps a gateway message to an event. Messages of the bot
// itself and of other guilds are dropped.
func (a *Adapter) handleMessage(m *discordgo.Message, selfID string) (domain.AccountEvent, bool) {
	if m == nil || m.Author == nil {
		return domain.AccountEvent{}, false
	}
	if m.Author.ID == selfID {
		return domain.AccountEvent{}, false
	}
	if a.guildID != "" && m.GuildID != "" && m.GuildID != a.guildID {
		return domain.AccountEvent{}, false
	}

	if m.GuildID == "" {
		a.mu.Lock()
		a.chatType[m.ChannelID] = domain.ChatSingle
		a.mu.Unlock()
	}
	a.rememberUser(m.Author)

	chatID := a.chats.Put(m.ChannelID, m.ChannelID)
	userID := a.users.Put(m.Author.ID, m.Author.ID)
	id := a.msgs.Put(m.ChannelID+"/"+m.ID, messageRef{
		channelID: m.ChannelID,
		messageID: m.ID,
		msg: domain.Message{
			ChatID: domain.ChatID(chatID),
			FromID: domain.ContactID(userID),
			Text:   m.Content,
			IsInfo: m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply,
			IsBot:  m.Author.Bot,
		},
	})
	a.logger.Debug("discord message received", "channel", m.ChannelID, "author", m.Author.Username, "content_len", len(m.Content))

	return domain.AccountEvent{
		Account: accountID,
		Event: domain.Event{
			Kind:   domain.EventIncomingMsg,
			Raw:    "MESSAGE_CREATE",
			ChatID: domain.ChatID(chatID),
			MsgID:  domain.MsgID(id),
		},
	}, true
}

func (a *Adapter) rememberChannel(ch *discordgo.Channel) domain.ChatType {
	typ := domain.ChatGroup
	if ch.Type == discordgo.ChannelTypeDM {
		typ = domain.ChatSingle
	}
	a.mu.Lock()
	a.chatType[ch.ID] = typ
	a.mu.Unlock()
	return typ
}

func (a *Adapter) rememberUser(u *discordgo.User) domain.Contact {
	display := u.GlobalName
	if display == "" {
		display = u.Username
	}
	c := domain.Contact{
		ID:          domain.ContactID(a.users.Put(u.ID, u.ID)),
		DisplayName: display,
		IsBot:       u.Bot,
	}
	a.mu.Lock()
	a.contacts[u.ID] = c
	a.mu.Unlock()
	return c
}

var _ domain.Adapter = (*Adapter)(nil)
