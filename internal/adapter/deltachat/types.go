package deltachat

import (
	"encoding/json"
	"strings"

	"web2pdfbot/internal/domain"
)

// Reserved contact ids of the account owner and of the device chat.
const (
	contactIDSelf   = 1
	contactIDDevice = 5
)

// chatTypeSingle is the legacy numeric chat type of one-to-one chats, still
// sent by older RPC servers (groups are 120 and up).
const chatTypeSingle = 100

type rpcMessage struct {
	ID     int64  `json:"id"`
	ChatID int64  `json:"chatId"`
	FromID int64  `json:"fromId"`
	Text   string `json:"text"`
	IsInfo bool   `json:"isInfo"`
	IsBot  bool   `json:"isBot"`
}

func (m rpcMessage) toDomain() domain.Message {
	return domain.Message{
		ID:       domain.MsgID(m.ID),
		ChatID:   domain.ChatID(m.ChatID),
		FromID:   domain.ContactID(m.FromID),
		Text:     m.Text,
		IsInfo:   m.IsInfo,
		IsBot:    m.IsBot,
		FromSelf: m.FromID == contactIDSelf,
	}
}

type rpcBasicChat struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	ChatType json.RawMessage `json:"chatType"`
}

func (c rpcBasicChat) toDomain() domain.BasicChat {
	return domain.BasicChat{
		ID:   domain.ChatID(c.ID),
		Name: c.Name,
		Type: parseChatType(c.ChatType),
	}
}

// parseChatType accepts both the numeric and the string representation.
// Anything that is not a one-to-one chat counts as a group.
func parseChatType(raw json.RawMessage) domain.ChatType {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if n == chatTypeSingle {
			return domain.ChatSingle
		}
		return domain.ChatGroup
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && strings.EqualFold(s, "Single") {
		return domain.ChatSingle
	}
	return domain.ChatGroup
}

type rpcContact struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
	IsBot       bool   `json:"isBot"`
}

func (c rpcContact) toDomain() domain.Contact {
	return domain.Contact{
		ID:          domain.ContactID(c.ID),
		DisplayName: c.DisplayName,
		IsBot:       c.IsBot,
	}
}

// rpcMessageData is the MessageData object accepted by send_msg.
type rpcMessageData struct {
	Text            *string `json:"text,omitempty"`
	File            *string `json:"file,omitempty"`
	QuotedMessageID *int64  `json:"quotedMessageId,omitempty"`
}

func toMessageData(d domain.MsgData) rpcMessageData {
	var out rpcMessageData
	if d.Text != "" {
		out.Text = &d.Text
	}
	if d.File != "" {
		out.File = &d.File
	}
	if d.QuotedMessageID != 0 {
		q := int64(d.QuotedMessageID)
		out.QuotedMessageID = &q
	}
	return out
}

type rpcEvent struct {
	ContextID int64        `json:"contextId"`
	Event     rpcEventBody `json:"event"`
}

type rpcEventBody struct {
	Kind      string `json:"kind"`
	Msg       string `json:"msg"`
	ChatID    int64  `json:"chatId"`
	MsgID     int64  `json:"msgId"`
	ContactID int64  `json:"contactId"`
	Progress  int    `json:"progress"`
}

var eventKinds = map[string]domain.EventKind{
	"Info":                      domain.EventInfo,
	"Warning":                   domain.EventWarning,
	"Error":                     domain.EventError,
	"MsgDelivered":              domain.EventMsgDelivered,
	"SecurejoinInviterProgress": domain.EventSecureJoinInviterProgress,
	"IncomingMsg":               domain.EventIncomingMsg,
}

func (e rpcEvent) toDomain() domain.AccountEvent {
	kind, ok := eventKinds[e.Event.Kind]
	if !ok {
		kind = domain.EventUnknown
	}
	return domain.AccountEvent{
		Account: domain.AccountID(e.ContextID),
		Event: domain.Event{
			Kind:      kind,
			Raw:       e.Event.Kind,
			Msg:       e.Event.Msg,
			ChatID:    domain.ChatID(e.Event.ChatID),
			MsgID:     domain.MsgID(e.Event.MsgID),
			ContactID: domain.ContactID(e.Event.ContactID),
			Progress:  e.Event.Progress,
		},
	}
}
