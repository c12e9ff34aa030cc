package domain

type (
	AccountID int64
	ChatID    int64
	MsgID     int64
	ContactID int64
)

// ChatType distinguishes one-to-one chats from multi-member ones.
type ChatType int

const (
	ChatSingle ChatType = iota + 1
	ChatGroup
)

func (t ChatType) String() string {
	switch t {
	case ChatSingle:
		return "single"
	case ChatGroup:
		return "group"
	default:
		return "unknown"
	}
}

// BasicChat is the read-only view of a chat the bot needs.
type BasicChat struct {
	ID   ChatID
	Name string
	Type ChatType
}

// Contact is the read-only view of a chat peer.
type Contact struct {
	ID          ContactID
	DisplayName string
	IsBot       bool
}

// Message is an incoming message as seen by the bot.
type Message struct {
	ID       MsgID
	ChatID   ChatID
	FromID   ContactID
	Text     string
	IsInfo   bool // system message (member added, chat renamed, ...)
	IsBot    bool // sender is a bot
	FromSelf bool
}

// MsgData is an outgoing reply: either Text or File is set.
type MsgData struct {
	Text            string
	File            string // path to a local file to attach
	QuotedMessageID MsgID  // 0 = no quote
}

// Well-known account config keys.
const (
	ConfigDisplayName       = "displayname"
	ConfigSelfStatus        = "selfstatus"
	ConfigDeleteDeviceAfter = "delete_device_after"
	ConfigAddr              = "addr"
	ConfigMailPassword      = "mail_pw"
	ConfigBot               = "bot"
)
