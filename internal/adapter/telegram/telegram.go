// Package telegram serves the bot over the Telegram Bot API. Every bot token
// is one account; account ids follow the order of the tokens, starting at 1.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"web2pdfbot/internal/adapter"
	"web2pdfbot/internal/adapter/idmap"
	"web2pdfbot/internal/domain"
	"web2pdfbot/internal/security"
)

const (
	name               = "telegram"
	defaultPollTimeout = 60
	eventBuffer        = 64
)

var errUnknownMessage = errors.New("telegram: unknown message")

// botAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Config configures the Telegram adapter.
type Config struct {
	Tokens           []string
	DeleteFromServer bool // also delete processed messages from the chat
	PollTimeout      int  // long-poll timeout in seconds
	Debug            bool
	Settings         adapter.ConfigStore      // defaults to process memory
	Pairing          *security.PairingService // nil = anyone may talk to the bot
	Logger           *slog.Logger
}

type account struct {
	api  botAPI
	self tgbotapi.User
}

// message is what the adapter remembers about a message it reported.
type message struct {
	account domain.AccountID
	chatID  int64
	id      int
	msg     domain.Message
}

// Adapter implements domain.Adapter for one or more Telegram bots.
type Adapter struct {
	accounts    map[domain.AccountID]*account
	settings    adapter.ConfigStore
	pairing     *security.PairingService
	logger      *slog.Logger
	deleteSrv   bool
	pollTimeout int

	msgs   *idmap.Map[message]
	events chan domain.AccountEvent

	mu       sync.Mutex
	chats    map[domain.AccountID]map[int64]domain.BasicChat
	contacts map[domain.AccountID]map[int64]domain.Contact
}

// New logs every token in.
func New(cfg Config) (*Adapter, error) {
	if len(cfg.Tokens) == 0 {
		return nil, errors.New("telegram: no bot token configured")
	}
	apis := make([]botAPI, 0, len(cfg.Tokens))
	selves := make([]tgbotapi.User, 0, len(cfg.Tokens))
	for i, token := range cfg.Tokens {
		bot, err := tgbotapi.NewBotAPI(token)
		if err != nil {
			return nil, fmt.Errorf("telegram bot %d init: %w", i+1, err)
		}
		bot.Debug = cfg.Debug
		apis = append(apis, bot)
		selves = append(selves, bot.Self)
	}
	a := newAdapter(cfg, apis, selves)
	for id, acc := range a.accounts {
		a.logger.Info("telegram bot connected", "account", id, "username", acc.self.UserName, "id", acc.self.ID)
	}
	return a, nil
}

func newAdapter(cfg Config, apis []botAPI, selves []tgbotapi.User) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Settings == nil {
		cfg.Settings = adapter.NewMemoryConfig()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	a := &Adapter{
		accounts:    make(map[domain.AccountID]*account, len(apis)),
		settings:    cfg.Settings,
		pairing:     cfg.Pairing,
		logger:      cfg.Logger.With("adapter", name),
		deleteSrv:   cfg.DeleteFromServer,
		pollTimeout: cfg.PollTimeout,
		msgs:        idmap.New[message](idmap.DefaultSize),
		events:      make(chan domain.AccountEvent, eventBuffer),
		chats:       make(map[domain.AccountID]map[int64]domain.BasicChat),
		contacts:    make(map[domain.AccountID]map[int64]domain.Contact),
	}
	for i, api := range apis {
		a.accounts[domain.AccountID(i+1)] = &account{api: api, self: selves[i]}
	}
	return a
}

func (a *Adapter) Name() string { return name }

func (a *Adapter) account(acc domain.AccountID) (*account, error) {
	ac, ok := a.accounts[acc]
	if !ok {
		return nil, fmt.Errorf("telegram: unknown account %d", acc)
	}
	return ac, nil
}

func (a *Adapter) AccountIDs(context.Context) ([]domain.AccountID, error) {
	ids := make([]domain.AccountID, 0, len(a.accounts))
	for id := range a.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (a *Adapter) GetConfig(ctx context.Context, acc domain.AccountID, key string) (string, error) {
	if _, err := a.account(acc); err != nil {
		return "", err
	}
	return a.settings.Get(ctx, acc, key)
}

func (a *Adapter) SetConfig(ctx context.Context, acc domain.AccountID, key, value string) error {
	if _, err := a.account(acc); err != nil {
		return err
	}
	return a.settings.Set(ctx, acc, key, value)
}

// DeleteMessages forgets the messages. With DeleteFromServer they are also
// removed from the chat; failures there are logged, not returned.
func (a *Adapter) DeleteMessages(_ context.Context, acc domain.AccountID, ids []domain.MsgID) error {
	ac, err := a.account(acc)
	if err != nil {
		return err
	}
	for _, id := range ids {
		m, ok := a.msgs.Get(int64(id))
		if !ok || m.account != acc {
			continue
		}
		a.msgs.Delete(int64(id))
		if !a.deleteSrv {
			continue
		}
		if _, err := ac.api.Request(tgbotapi.NewDeleteMessage(m.chatID, m.id)); err != nil {
			a.logger.Warn("cannot delete telegram message", "account", acc, "chat", m.chatID, "msg", m.id, "err", err)
		}
	}
	return nil
}

func (a *Adapter) GetMessage(_ context.Context, acc domain.AccountID, id domain.MsgID) (domain.Message, error) {
	m, ok := a.msgs.Get(int64(id))
	if !ok || m.account != acc {
		return domain.Message{}, fmt.Errorf("%w %d", errUnknownMessage, id)
	}
	out := m.msg
	out.ID = id
	return out, nil
}

func (a *Adapter) GetBasicChatInfo(_ context.Context, acc domain.AccountID, id domain.ChatID) (domain.BasicChat, error) {
	ac, err := a.account(acc)
	if err != nil {
		return domain.BasicChat{}, err
	}
	a.mu.Lock()
	chat, ok := a.chats[acc][int64(id)]
	a.mu.Unlock()
	if ok {
		return chat, nil
	}

	tc, err := ac.api.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: int64(id)}})
	if err != nil {
		return domain.BasicChat{}, fmt.Errorf("telegram get chat %d: %w", id, err)
	}
	chat = a.rememberChat(acc, &tc)
	return chat, nil
}

func (a *Adapter) GetContact(_ context.Context, acc domain.AccountID, id domain.ContactID) (domain.Contact, error) {
	if _, err := a.account(acc); err != nil {
		return domain.Contact{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	contact, ok := a.contacts[acc][int64(id)]
	if !ok {
		return domain.Contact{}, fmt.Errorf("telegram: unknown contact %d", id)
	}
	return contact, nil
}

// CreateChatByContactID returns the private chat with a user, whose id on
// Telegram is the user id.
func (a *Adapter) CreateChatByContactID(_ context.Context, acc domain.AccountID, id domain.ContactID) (domain.ChatID, error) {
	if _, err := a.account(acc); err != nil {
		return 0, err
	}
	return domain.ChatID(id), nil
}

func (a *Adapter) SendMsg(_ context.Context, acc domain.AccountID, chat domain.ChatID, data domain.MsgData) (domain.MsgID, error) {
	ac, err := a.account(acc)
	if err != nil {
		return 0, err
	}

	replyTo := 0
	if data.QuotedMessageID != 0 {
		if m, ok := a.msgs.Get(int64(data.QuotedMessageID)); ok && m.account == acc {
			replyTo = m.id
		}
	}

	var out tgbotapi.Chattable
	if data.File != "" {
		doc := tgbotapi.NewDocument(int64(chat), tgbotapi.FilePath(data.File))
		doc.Caption = data.Text
		doc.ReplyToMessageID = replyTo
		out = doc
	} else {
		msg := tgbotapi.NewMessage(int64(chat), data.Text)
		msg.ReplyToMessageID = replyTo
		out = msg
	}

	sent, err := ac.api.Send(out)
	if err != nil {
		return 0, fmt.Errorf("telegram send: %w", err)
	}
	id := a.intern(acc, &sent, domain.Message{
		ChatID:   chat,
		FromID:   domain.ContactID(ac.self.ID),
		Text:     data.Text,
		IsBot:    true,
		FromSelf: true,
	})
	return domain.MsgID(id), nil
}

// InviteLink returns a deep link to the bot. With pairing enabled the link
// carries a fresh invite code.
func (a *Adapter) InviteLink(ctx context.Context, acc domain.AccountID) (string, error) {
	ac, err := a.account(acc)
	if err != nil {
		return "", err
	}
	link := "https://t.me/" + ac.self.UserName
	if a.pairing == nil {
		return link, nil
	}
	code, err := a.pairing.CreateInvite(ctx, name, acc)
	if err != nil {
		return "", err
	}
	return link + "?start=" + code, nil
}

func (a *Adapter) Events() <-chan domain.AccountEvent { return a.events }

// Run long-polls every bot until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	defer close(a.events)

	var wg sync.WaitGroup
	for id, ac := range a.accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.poll(ctx, id, ac)
		}()
	}
	wg.Wait()
	return nil
}

func (a *Adapter) poll(ctx context.Context, acc domain.AccountID, ac *account) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = a.pollTimeout
	updates := ac.api.GetUpdatesChan(u)
	a.logger.Info("telegram polling started", "account", acc)

	for {
		select {
		case <-ctx.Done():
			// stopping twice panics, so only here
			ac.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			ev, ok := a.handleUpdate(ctx, acc, ac, update)
			if !ok {
				continue
			}
			if !adapter.Emit(ctx, a.events, ev) {
				ac.api.StopReceivingUpdates()
				return
			}
		}
	}
}

// Close is a no-op; polling stops with Run's context.
func (a *Adapter) Close() error { return nil }

// handleUpdate turns an update into an event. The bot's own messages and,
// with pairing required, messages from unpaired users are dropped.
func (a *Adapter) handleUpdate(ctx context.Context, acc domain.AccountID, ac *account, update tgbotapi.Update) (domain.AccountEvent, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return domain.AccountEvent{}, false
	}
	if msg.From.ID == ac.self.ID {
		return domain.AccountEvent{}, false
	}

	chat := a.rememberChat(acc, msg.Chat)
	a.rememberContact(acc, msg.From)
	userID := strconv.FormatInt(msg.From.ID, 10)

	if chat.Type == domain.ChatSingle && msg.IsCommand() && msg.Command() == "start" {
		return a.handleStart(ctx, acc, msg, userID)
	}

	if a.pairing != nil && a.pairing.IsRequired() {
		paired, err := a.pairing.IsPaired(ctx, name, acc, userID)
		if err != nil {
			a.logger.Error("cannot check pairing", "account", acc, "user", userID, "err", err)
			return domain.AccountEvent{}, false
		}
		if !paired {
			a.logger.Warn("dropping message from unpaired user", "account", acc, "user", userID, "chat", msg.Chat.ID)
			return domain.AccountEvent{}, false
		}
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	id := a.intern(acc, msg, domain.Message{
		ChatID: domain.ChatID(msg.Chat.ID),
		FromID: domain.ContactID(msg.From.ID),
		Text:   text,
		IsInfo: isServiceMessage(msg),
		IsBot:  msg.From.IsBot,
	})
	a.logger.Debug("telegram message received", "account", acc, "chat", msg.Chat.ID, "user", userID, "text_len", len(text))

	return domain.AccountEvent{
		Account: acc,
		Event: domain.Event{
			Kind:   domain.EventIncomingMsg,
			Raw:    "message",
			ChatID: domain.ChatID(msg.Chat.ID),
			MsgID:  domain.MsgID(id),
		},
	}, true
}

// handleStart treats /start [code] in a private chat as a pairing attempt.
// It is reported as completed pairing progress, not as a message.
func (a *Adapter) handleStart(ctx context.Context, acc domain.AccountID, msg *tgbotapi.Message, userID string) (domain.AccountEvent, bool) {
	accepted := true
	if a.pairing != nil {
		var err error
		accepted, err = a.pairing.Accept(ctx, name, acc, userID, msg.CommandArguments())
		if err != nil {
			a.logger.Error("pairing failed", "account", acc, "user", userID, "err", err)
			return domain.AccountEvent{}, false
		}
	}
	if !accepted {
		a.logger.Warn("rejected invite", "account", acc, "user", userID)
		return domain.AccountEvent{}, false
	}
	return domain.AccountEvent{
		Account: acc,
		Event: domain.Event{
			Kind:      domain.EventSecureJoinInviterProgress,
			Raw:       "start",
			ContactID: domain.ContactID(msg.From.ID),
			Progress:  domain.PairingComplete,
		},
	}, true
}

func (a *Adapter) intern(acc domain.AccountID, tm *tgbotapi.Message, m domain.Message) int64 {
	chatID := int64(m.ChatID)
	if tm.Chat != nil {
		chatID = tm.Chat.ID
	}
	key := fmt.Sprintf("%d/%d/%d", acc, chatID, tm.MessageID)
	return a.msgs.Put(key, message{account: acc, chatID: chatID, id: tm.MessageID, msg: m})
}

func (a *Adapter) rememberChat(acc domain.AccountID, c *tgbotapi.Chat) domain.BasicChat {
	chat := domain.BasicChat{ID: domain.ChatID(c.ID), Name: chatTitle(c), Type: domain.ChatGroup}
	if c.IsPrivate() {
		chat.Type = domain.ChatSingle
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.chats[acc] == nil {
		a.chats[acc] = make(map[int64]domain.BasicChat)
	}
	a.chats[acc][c.ID] = chat
	return chat
}

func (a *Adapter) rememberContact(acc domain.AccountID, u *tgbotapi.User) {
	display := u.FirstName
	if display == "" {
		display = u.UserName
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.contacts[acc] == nil {
		a.contacts[acc] = make(map[int64]domain.Contact)
	}
	a.contacts[acc][u.ID] = domain.Contact{ID: domain.ContactID(u.ID), DisplayName: display, IsBot: u.IsBot}
}

func chatTitle(c *tgbotapi.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	if c.FirstName != "" {
		return c.FirstName
	}
	return c.UserName
}

// isServiceMessage reports membership and chat setting changes.
func isServiceMessage(m *tgbotapi.Message) bool {
	return len(m.NewChatMembers) > 0 ||
		m.LeftChatMember != nil ||
		m.NewChatTitle != "" ||
		len(m.NewChatPhoto) > 0 ||
		m.DeleteChatPhoto ||
		m.GroupChatCreated ||
		m.PinnedMessage != nil
}

var (
	_ domain.Adapter = (*Adapter)(nil)
	_ domain.Inviter = (*Adapter)(nil)
)
