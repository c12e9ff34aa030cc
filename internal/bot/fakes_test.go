package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"web2pdfbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type sentMsg struct {
	Account domain.AccountID
	Chat    domain.ChatID
	Data    domain.MsgData
	// FileExisted records whether the attached file was on disk at send time.
	FileExisted bool
}

type configWrite struct {
	Account    domain.AccountID
	Key, Value string
}

// fakeClient is an in-memory domain.Client.
type fakeClient struct {
	mu       sync.Mutex
	accounts []domain.AccountID
	config   map[domain.AccountID]map[string]string
	messages map[domain.MsgID]domain.Message
	chats    map[domain.ChatID]domain.BasicChat
	contacts map[domain.ContactID]domain.Contact

	sent        []sentMsg
	deleted     []domain.MsgID
	writes      []configWrite
	createdWith []domain.ContactID

	sendErr      error
	failFileSend bool
	getMsgErr    error
	nextChatID   domain.ChatID
}

func newFakeClient(accounts ...domain.AccountID) *fakeClient {
	return &fakeClient{
		accounts:   accounts,
		config:     make(map[domain.AccountID]map[string]string),
		messages:   make(map[domain.MsgID]domain.Message),
		chats:      make(map[domain.ChatID]domain.BasicChat),
		contacts:   make(map[domain.ContactID]domain.Contact),
		nextChatID: 500,
	}
}

func (c *fakeClient) AccountIDs(ctx context.Context) ([]domain.AccountID, error) {
	return c.accounts, nil
}

func (c *fakeClient) GetConfig(ctx context.Context, acc domain.AccountID, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config[acc][key], nil
}

func (c *fakeClient) SetConfig(ctx context.Context, acc domain.AccountID, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config[acc] == nil {
		c.config[acc] = make(map[string]string)
	}
	c.config[acc][key] = value
	c.writes = append(c.writes, configWrite{Account: acc, Key: key, Value: value})
	return nil
}

func (c *fakeClient) DeleteMessages(ctx context.Context, acc domain.AccountID, ids []domain.MsgID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, ids...)
	return nil
}

func (c *fakeClient) GetMessage(ctx context.Context, acc domain.AccountID, id domain.MsgID) (domain.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getMsgErr != nil {
		return domain.Message{}, c.getMsgErr
	}
	m, ok := c.messages[id]
	if !ok {
		return domain.Message{}, fmt.Errorf("message %d not found", id)
	}
	return m, nil
}

func (c *fakeClient) GetBasicChatInfo(ctx context.Context, acc domain.AccountID, id domain.ChatID) (domain.BasicChat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chat, ok := c.chats[id]
	if !ok {
		return domain.BasicChat{}, fmt.Errorf("chat %d not found", id)
	}
	return chat, nil
}

func (c *fakeClient) GetContact(ctx context.Context, acc domain.AccountID, id domain.ContactID) (domain.Contact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	contact, ok := c.contacts[id]
	if !ok {
		return domain.Contact{}, fmt.Errorf("contact %d not found", id)
	}
	return contact, nil
}

func (c *fakeClient) CreateChatByContactID(ctx context.Context, acc domain.AccountID, id domain.ContactID) (domain.ChatID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createdWith = append(c.createdWith, id)
	c.nextChatID++
	return c.nextChatID, nil
}

func (c *fakeClient) SendMsg(ctx context.Context, acc domain.AccountID, chat domain.ChatID, data domain.MsgData) (domain.MsgID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return 0, c.sendErr
	}
	if c.failFileSend && data.File != "" {
		return 0, errors.New("upload failed")
	}
	existed := false
	if data.File != "" {
		_, err := os.Stat(data.File)
		existed = err == nil
	}
	c.sent = append(c.sent, sentMsg{Account: acc, Chat: chat, Data: data, FileExisted: existed})
	return domain.MsgID(1000 + len(c.sent)), nil
}

func (c *fakeClient) addMessage(m domain.Message, chatType domain.ChatType) domain.AccountEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[m.ID] = m
	c.chats[m.ChatID] = domain.BasicChat{ID: m.ChatID, Type: chatType}
	return domain.AccountEvent{
		Account: 1,
		Event:   domain.Event{Kind: domain.EventIncomingMsg, ChatID: m.ChatID, MsgID: m.ID},
	}
}

// fakeRenderer records calls and writes a tiny PDF unless err is set.
type fakeRenderer struct {
	mu    sync.Mutex
	calls []renderCall
	err   error
}

type renderCall struct {
	URL, Path string
}

func (r *fakeRenderer) Render(ctx context.Context, url, outPath string) error {
	r.mu.Lock()
	r.calls = append(r.calls, renderCall{URL: url, Path: outPath})
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte("%PDF-1.4\n"), 0o600)
}

// fakeSource is a domain.EventSource that replays a fixed list of events.
type fakeSource struct {
	queued []domain.AccountEvent
	events chan domain.AccountEvent
}

func newFakeSource(events ...domain.AccountEvent) *fakeSource {
	return &fakeSource{queued: events, events: make(chan domain.AccountEvent)}
}

func (s *fakeSource) Run(ctx context.Context) error {
	defer close(s.events)
	for _, ev := range s.queued {
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (s *fakeSource) Events() <-chan domain.AccountEvent { return s.events }
