// Package events defines the real-time wire schema. Every frame is an
// envelope {"type": <kind>, "data": <payload>} whose payload shape is fixed
// per kind and validated before it reaches the router.
package events

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind names an event type on the wire.
type Kind string

// Inbound kinds.
const (
	KindRegister           Kind = "register"
	KindSendInvite         Kind = "send_invite"
	KindAcceptInvite       Kind = "accept_invite"
	KindSendPrivateMessage Kind = "send-private-message"
)

// Outbound kinds.
const (
	KindReceiveInvite         Kind = "receive_invite"
	KindInviteAccepted        Kind = "invite_accepted"
	KindReceivePrivateMessage Kind = "receive-private-message"
	KindError                 Kind = "error"
)

// MaxMessageLength bounds the text of a private message in bytes.
const MaxMessageLength = 4096

var (
	// ErrUnknownKind is returned when a frame names an unsupported event.
	ErrUnknownKind = errors.New("unknown event type")
	// ErrMalformed is returned when a frame cannot be decoded.
	ErrMalformed = errors.New("malformed event")
	// ErrInvalid is returned when a decoded payload fails validation.
	ErrInvalid = errors.New("invalid event")
)

// UserRef identifies a user inside an event payload.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// Message is a private chat message.
type Message struct {
	SenderID string `json:"senderId"`
	Text     string `json:"text"`
	SentAt   int64  `json:"sentAt,omitempty"`
}

// Inbound is an event sent by a client.
type Inbound interface {
	Kind() Kind
	Validate() error
}

// Outbound is an event pushed to a client.
type Outbound interface {
	Kind() Kind
}

// Register announces the user owning the connection.
type Register struct {
	UserID string `json:"userId"`
}

// SendInvite asks the server to invite To on behalf of From.
type SendInvite struct {
	From UserRef `json:"from"`
	To   UserRef `json:"to"`
}

// AcceptInvite reports that To accepted the invite sent by the user From.
type AcceptInvite struct {
	From string  `json:"from"`
	To   UserRef `json:"to"`
}

// SendPrivateMessage carries a chat message for the user To.
type SendPrivateMessage struct {
	To      string  `json:"to"`
	Message Message `json:"message"`
}

// ReceiveInvite is pushed to an online invite recipient.
type ReceiveInvite struct {
	From UserRef `json:"from"`
}

// InviteAccepted is pushed to the original sender once an invite is accepted.
type InviteAccepted struct {
	By UserRef `json:"by"`
}

// ReceivePrivateMessage is pushed to an online message recipient.
type ReceivePrivateMessage struct {
	Message Message `json:"message"`
}

// Error reports a rejected inbound event to the connection that sent it.
type Error struct {
	Event   Kind   `json:"event,omitempty"`
	Message string `json:"message"`
}

func (Register) Kind() Kind { return KindRegister }
func (SendInvite) Kind() Kind { return KindSendInvite }
func (AcceptInvite) Kind() Kind { return KindAcceptInvite }
func (SendPrivateMessage) Kind() Kind { return KindSendPrivateMessage }
func (ReceiveInvite) Kind() Kind { return KindReceiveInvite }
func (InviteAccepted) Kind() Kind { return KindInviteAccepted }
func (ReceivePrivateMessage) Kind() Kind { return KindReceivePrivateMessage }
func (Error) Kind() Kind { return KindError }

func (e Register) Validate() error {
	return requireID("userId", e.UserID)
}

func (e SendInvite) Validate() error {
	if err := requireID("from.id", e.From.ID); err != nil {
		return err
	}
	return requireID("to.id", e.To.ID)
}

func (e AcceptInvite) Validate() error {
	if err := requireID("from", e.From); err != nil {
		return err
	}
	return requireID("to.id", e.To.ID)
}

func (e SendPrivateMessage) Validate() error {
	if err := requireID("to", e.To); err != nil {
		return err
	}
	if strings.TrimSpace(e.Message.Text) == "" {
		return fmt.Errorf("%w: message.text is required", ErrInvalid)
	}
	if len(e.Message.Text) > MaxMessageLength {
		return fmt.Errorf("%w: message.text exceeds %d bytes", ErrInvalid, MaxMessageLength)
	}
	if !utf8.ValidString(e.Message.Text) {
		return fmt.Errorf("%w: message.text is not valid UTF-8", ErrInvalid)
	}
	return nil
}

func requireID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, field)
	}
	if len(value) > 128 {
		return fmt.Errorf("%w: %s is too long", ErrInvalid, field)
	}
	return nil
}

func newInbound(kind Kind) (Inbound, error) {
	switch kind {
	case KindRegister:
		return &Register{}, nil
	case KindSendInvite:
		return &SendInvite{}, nil
	case KindAcceptInvite:
		return &AcceptInvite{}, nil
	case KindSendPrivateMessage:
		return &SendPrivateMessage{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, kind)
	}
}

// deref turns the pointer produced by newInbound back into a value so callers
// can type-switch on the plain struct types.
func deref(in Inbound) Inbound {
	switch v := in.(type) {
	case *Register:
		return *v
	case *SendInvite:
		return *v
	case *AcceptInvite:
		return *v
	case *SendPrivateMessage:
		return *v
	}
	return in
}
