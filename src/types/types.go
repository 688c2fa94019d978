package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind identifies what produced an envelope.
type Kind string

const (
	KindPresence     Kind = "presence"
	KindChat         Kind = "chat"
	KindNotification Kind = "notification"
)

// Client frame types.
const (
	FrameBind = "bind"
	FrameChat = "chat"

	// frameLegacyBind is what older clients send instead of "bind".
	frameLegacyBind = "uid"
)

var (
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Envelope is the message record exchanged between clients, router and broker.
// It is never mutated after it has been published.
type Envelope struct {
	Kind Kind   `json:"kind,omitempty"`
	UID  string `json:"uid,omitempty"`
	Msg  string `json:"msg"`
	From string `json:"from,omitempty"`
	TS   int64  `json:"ts"`
}

// NewEnvelope stamps an envelope with the current time in milliseconds.
func NewEnvelope(kind Kind, from, to, msg string) Envelope {
	return Envelope{
		Kind: kind,
		UID:  to,
		Msg:  msg,
		From: from,
		TS:   time.Now().UnixMilli(),
	}
}

// Targeted reports whether the envelope is addressed to a single user.
func (e Envelope) Targeted() bool { return e.UID != "" }

// Marshal serializes the envelope into its wire form.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// ParseEnvelope decodes a serialized envelope. Unknown fields are ignored.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return env, nil
}

// Frame is what a client sends over the realtime channel.
type Frame struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
	UID  string `json:"uid,omitempty"`
}

// ParseFrame decodes a client frame and normalizes its type.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch f.Type {
	case FrameBind, FrameChat:
	case frameLegacyBind:
		f.Type = FrameBind
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownFrameType, f.Type)
	}
	return f, nil
}

// Receipt reports what happened to a dispatched envelope.
type Receipt struct {
	Envelope  Envelope `json:"envelope"`
	Stored    bool     `json:"stored"`
	Published bool     `json:"published"`
}

// ClientInfo holds metadata about a connected client.
type ClientInfo struct {
	ID          string    `json:"id"`
	UID         string    `json:"uid,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Conn abstracts a realtime connection for testability.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Ping() error
	RemoteAddr() string
	Close() error
}
