package domain

// EventKind classifies an event delivered by a chat client adapter.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventInfo
	EventWarning
	EventError
	EventMsgDelivered
	EventSecureJoinInviterProgress
	EventIncomingMsg
)

// PairingComplete is the progress value reported once a pairing handshake
// has finished.
const PairingComplete = 1000

var eventKindNames = map[EventKind]string{
	EventUnknown:                   "unknown",
	EventInfo:                      "info",
	EventWarning:                   "warning",
	EventError:                     "error",
	EventMsgDelivered:              "msg_delivered",
	EventSecureJoinInviterProgress: "securejoin_inviter_progress",
	EventIncomingMsg:               "incoming_msg",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is a single protocol event. Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind
	Raw       string // adapter-native kind name, kept for logging unknown kinds
	Msg       string // info/warning/error text
	ChatID    ChatID
	MsgID     MsgID
	ContactID ContactID
	Progress  int
}

// AccountEvent is an Event tagged with the account it was raised for.
type AccountEvent struct {
	Account AccountID
	Event   Event
}
