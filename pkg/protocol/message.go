package protocol

// Type identifies one protocol message kind. The same set of kinds travels
// over both transports; only the framing differs.
type Type uint8

const (
	TypeAuth Type = iota
	TypeJoin
	TypeReply
	TypeErr
	TypeBye
	TypeMsg
	TypeConfirm
	TypeUnknown
)

func (t Type) String() string {
	switch t {
	case TypeAuth:
		return "AUTH"
	case TypeJoin:
		return "JOIN"
	case TypeReply:
		return "REPLY"
	case TypeErr:
		return "ERR"
	case TypeBye:
		return "BYE"
	case TypeMsg:
		return "MSG"
	case TypeConfirm:
		return "CONFIRM"
	default:
		return "UNKNOWN"
	}
}

// Message is one protocol message. Implementations are value-like: Clone
// returns an independent copy, so a forwarded copy can be mutated without
// affecting the original or any other recipient.
type Message interface {
	Type() Type
	Clone() Message
}

// Sequenced is implemented by every message that carries a datagram message
// ID on the binary wire (everything except Confirm and Unknown). The stream
// transport ignores the ID entirely.
type Sequenced interface {
	Message
	MessageID() uint16
	SetMessageID(uint16)
}

// AuthMessage requests authentication of a username with a secret.
type AuthMessage struct {
	ID          uint16
	Username    string
	DisplayName string
	Secret      string
}

func (m *AuthMessage) Type() Type { return TypeAuth }
func (m *AuthMessage) Clone() Message { c := *m; return &c }
func (m *AuthMessage) MessageID() uint16 { return m.ID }
func (m *AuthMessage) SetMessageID(id uint16) { m.ID = id }

// JoinMessage asks to switch into a channel.
type JoinMessage struct {
	ID          uint16
	ChannelID   string
	DisplayName string
}

func (m *JoinMessage) Type() Type { return TypeJoin }
func (m *JoinMessage) Clone() Message { c := *m; return &c }
func (m *JoinMessage) MessageID() uint16 { return m.ID }
func (m *JoinMessage) SetMessageID(id uint16) { m.ID = id }

// MsgMessage carries chat content from a display name.
type MsgMessage struct {
	ID          uint16
	DisplayName string
	Content     string
}

func (m *MsgMessage) Type() Type { return TypeMsg }
func (m *MsgMessage) Clone() Message { c := *m; return &c }
func (m *MsgMessage) MessageID() uint16 { return m.ID }
func (m *MsgMessage) SetMessageID(id uint16) { m.ID = id }

// ErrMessage reports a protocol-level error to the peer.
type ErrMessage struct {
	ID          uint16
	DisplayName string
	Content     string
}

func (m *ErrMessage) Type() Type { return TypeErr }
func (m *ErrMessage) Clone() Message { c := *m; return &c }
func (m *ErrMessage) MessageID() uint16 { return m.ID }
func (m *ErrMessage) SetMessageID(id uint16) { m.ID = id }

// ReplyMessage answers an Auth or Join with a success flag. RefID references
// the message being answered; it is only meaningful on the datagram wire.
type ReplyMessage struct {
	ID      uint16
	Success bool
	RefID   uint16
	Content string
}

func (m *ReplyMessage) Type() Type { return TypeReply }
func (m *ReplyMessage) Clone() Message { c := *m; return &c }
func (m *ReplyMessage) MessageID() uint16 { return m.ID }
func (m *ReplyMessage) SetMessageID(id uint16) { m.ID = id }

// ByeMessage terminates the conversation.
type ByeMessage struct {
	ID uint16
}

func (m *ByeMessage) Type() Type { return TypeBye }
func (m *ByeMessage) Clone() Message { c := *m; return &c }
func (m *ByeMessage) MessageID() uint16 { return m.ID }
func (m *ByeMessage) SetMessageID(id uint16) { m.ID = id }

// ConfirmMessage acknowledges receipt of the datagram with RefID.
type ConfirmMessage struct {
	RefID uint16
}

func (m *ConfirmMessage) Type() Type { return TypeConfirm }
func (m *ConfirmMessage) Clone() Message { c := *m; return &c }

// UnknownMessage stands in for anything the decoders could not parse.
// Decoding never fails past the decode boundary; it yields one of these.
type UnknownMessage struct {
	Raw string
}

func (m *UnknownMessage) Type() Type { return TypeUnknown }
func (m *UnknownMessage) Clone() Message { c := *m; return &c }

// Compile-time checks that every wire message satisfies the interfaces.
var (
	_ Sequenced = (*AuthMessage)(nil)
	_ Sequenced = (*JoinMessage)(nil)
	_ Sequenced = (*MsgMessage)(nil)
	_ Sequenced = (*ErrMessage)(nil)
	_ Sequenced = (*ReplyMessage)(nil)
	_ Sequenced = (*ByeMessage)(nil)
	_ Message   = (*ConfirmMessage)(nil)
	_ Message   = (*UnknownMessage)(nil)
)
