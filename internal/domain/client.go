package domain

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by adapters for operations their protocol has
// no equivalent for.
var ErrNotSupported = errors.New("operation not supported by this adapter")

// Client is the outbound surface of a chat protocol runtime.
type Client interface {
	AccountIDs(ctx context.Context) ([]AccountID, error)
	GetConfig(ctx context.Context, acc AccountID, key string) (string, error)
	SetConfig(ctx context.Context, acc AccountID, key, value string) error
	DeleteMessages(ctx context.Context, acc AccountID, ids []MsgID) error
	GetMessage(ctx context.Context, acc AccountID, id MsgID) (Message, error)
	GetBasicChatInfo(ctx context.Context, acc AccountID, id ChatID) (BasicChat, error)
	GetContact(ctx context.Context, acc AccountID, id ContactID) (Contact, error)
	CreateChatByContactID(ctx context.Context, acc AccountID, id ContactID) (ChatID, error)
	SendMsg(ctx context.Context, acc AccountID, chat ChatID, data MsgData) (MsgID, error)
}

// EventSource delivers protocol events. Run blocks until ctx is done or the
// underlying connection fails; events arrive on Events in delivery order and
// Events is closed once Run returns.
type EventSource interface {
	Run(ctx context.Context) error
	Events() <-chan AccountEvent
}

// Adapter is a complete chat protocol integration.
type Adapter interface {
	Client
	EventSource
	Name() string
	Close() error
}

// Inviter is implemented by adapters that can hand out pairing links.
type Inviter interface {
	InviteLink(ctx context.Context, acc AccountID) (string, error)
}

// Configurer is implemented by adapters that can log a new account in.
type Configurer interface {
	Configure(ctx context.Context, acc AccountID) error
	AddAccount(ctx context.Context) (AccountID, error)
}
