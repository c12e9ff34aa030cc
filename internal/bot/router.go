package bot

import (
	"context"
	"log/slog"
	"sync"

	"web2pdfbot/internal/domain"
	"web2pdfbot/internal/metrics"
)

// NewMessage is the payload of an incoming-message event after the message
// has been fetched and its command token parsed.
type NewMessage struct {
	domain.Message
	Command string // e.g. "/help", empty if the text is not a command
	Payload string // text after the command
}

// EventHandler handles a raw protocol event.
type EventHandler func(ctx context.Context, acc domain.AccountID, ev domain.Event)

// MessageHandler handles a new message.
type MessageHandler func(ctx context.Context, acc domain.AccountID, msg NewMessage)

// Filter decides whether a MessageHandler applies to a message.
type Filter func(msg NewMessage) bool

// NotInfo matches messages that are not system/info messages.
func NotInfo() Filter {
	return func(msg NewMessage) bool { return !msg.IsInfo }
}

// IsCommand matches messages carrying the given command token.
func IsCommand(command string) Filter {
	return func(msg NewMessage) bool { return msg.Command == command }
}

type namedEventHandler struct {
	name    string
	handler EventHandler
}

type messageRoute struct {
	name    string
	filter  Filter
	handler MessageHandler
}

// Router dispatches events to registered handlers. Handlers run
// synchronously, in registration order, one event at a time.
type Router struct {
	client domain.Client
	logger *slog.Logger

	mu       sync.RWMutex
	raw      []namedEventHandler
	messages []messageRoute
	after    []messageRoute
	commands map[string]struct{}
}

// NewRouter creates a router that fetches new messages through client.
func NewRouter(client domain.Client, logger *slog.Logger) *Router {
	return &Router{
		client:   client,
		logger:   logger,
		commands: make(map[string]struct{}),
	}
}

// OnEvent registers a handler for every raw event, whatever its kind.
func (r *Router) OnEvent(name string, h EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw = append(r.raw, namedEventHandler{name: name, handler: h})
}

// OnMessage registers a handler for new messages matching filter.
// A nil filter matches every message.
func (r *Router) OnMessage(name string, filter Filter, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, messageRoute{name: name, filter: filter, handler: h})
}

// OnCommand registers a handler for a command token and records the command
// so HasCommand reports it.
func (r *Router) OnCommand(command string, h MessageHandler) {
	r.mu.Lock()
	r.commands[command] = struct{}{}
	r.mu.Unlock()
	r.OnMessage(command, IsCommand(command), h)
}

// After registers a handler that runs for every new message once all
// OnMessage handlers are done.
func (r *Router) After(name string, h MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.after = append(r.after, messageRoute{name: name, handler: h})
}

// HasCommand reports whether a handler is registered for command.
func (r *Router) HasCommand(command string) bool {
	if command == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[command]
	return ok
}

// Dispatch runs every handler interested in ev.
func (r *Router) Dispatch(ctx context.Context, ae domain.AccountEvent) {
	metrics.EventsTotal.Inc()

	r.mu.RLock()
	raw := append([]namedEventHandler(nil), r.raw...)
	messages := append([]messageRoute(nil), r.messages...)
	after := append([]messageRoute(nil), r.after...)
	r.mu.RUnlock()

	for _, h := range raw {
		r.safeCall(h.name, ae, func() { h.handler(ctx, ae.Account, ae.Event) })
	}

	if ae.Event.Kind != domain.EventIncomingMsg {
		return
	}
	metrics.MessagesTotal.Inc()

	msg, err := r.fetch(ctx, ae)
	if err != nil {
		r.logger.Error("cannot fetch new message",
			"account", ae.Account, "chat", ae.Event.ChatID, "msg", ae.Event.MsgID, "err", err)
	} else {
		for _, route := range messages {
			if route.filter != nil && !route.filter(msg) {
				continue
			}
			r.safeCall(route.name, ae, func() { route.handler(ctx, ae.Account, msg) })
		}
	}

	for _, route := range after {
		r.safeCall(route.name, ae, func() { route.handler(ctx, ae.Account, msg) })
	}
}

// fetch loads the message behind an incoming-message event. On error the
// returned NewMessage still carries the ids from the event so after-hooks
// can clean up.
func (r *Router) fetch(ctx context.Context, ae domain.AccountEvent) (NewMessage, error) {
	fallback := NewMessage{Message: domain.Message{ID: ae.Event.MsgID, ChatID: ae.Event.ChatID}}
	m, err := r.client.GetMessage(ctx, ae.Account, ae.Event.MsgID)
	if err != nil {
		return fallback, err
	}
	if m.ID == 0 {
		m.ID = ae.Event.MsgID
	}
	if m.ChatID == 0 {
		m.ChatID = ae.Event.ChatID
	}
	cmd, payload := ParseCommand(m.Text)
	return NewMessage{Message: m, Command: cmd, Payload: payload}, nil
}

func (r *Router) safeCall(name string, ae domain.AccountEvent, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.HandlerPanics.Inc()
			r.logger.Error("event handler panic",
				"handler", name, "account", ae.Account, "event", ae.Event.Kind, "panic", rec)
		}
	}()
	fn()
}
