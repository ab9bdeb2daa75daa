// Package protocol defines the message envelope shared by the reliable and
// best-effort channels, and the length-prefixed framing used on streams.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"whiteboard-lab/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Kind string

const (
	KindHello         Kind = "hello"
	KindHelloDatagram Kind = "hello-datagram"
	KindChat          Kind = "chat"
	KindSystem        Kind = "system"
	KindControl       Kind = "control"
	KindDraw          Kind = "draw"
)

const ActionClear = "clear"

type Hello struct {
	Username string `json:"username" validate:"max=64"`
}

type Chat struct {
	User string `json:"user" validate:"max=64"`
	Msg  string `json:"msg" validate:"required,max=4096"`
}

type System struct {
	Msg string `json:"msg" validate:"required,max=4096"`
}

type Control struct {
	Action string `json:"action" validate:"required,max=32"`
}

// Draw is one stroke segment. The hub never interprets its geometry.
type Draw struct {
	User  string  `json:"user" validate:"max=64"`
	Color string  `json:"color" validate:"required,max=32"`
	Width float64 `json:"width" validate:"gt=0,lte=512"`
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	X2    float64 `json:"x2"`
	Y2    float64 `json:"y2"`
}

// Event is the kind-tagged envelope exchanged on both channels.
// Exactly one payload matching Kind is set; hello-datagram carries none.
type Event struct {
	Kind    Kind
	Hello   *Hello
	Chat    *Chat
	System  *System
	Control *Control
	Draw    *Draw
}

func NewHello(username string) Event {
	return Event{Kind: KindHello, Hello: &Hello{Username: username}}
}

func NewHelloDatagram() Event {
	return Event{Kind: KindHelloDatagram}
}

func NewChat(user, msg string) Event {
	return Event{Kind: KindChat, Chat: &Chat{User: user, Msg: msg}}
}

func NewSystem(msg string) Event {
	return Event{Kind: KindSystem, System: &System{Msg: msg}}
}

func NewControl(action string) Event {
	return Event{Kind: KindControl, Control: &Control{Action: action}}
}

func NewClear() Event {
	return NewControl(ActionClear)
}

func NewDraw(d Draw) Event {
	return Event{Kind: KindDraw, Draw: &d}
}

// DecodeError reports a payload that could not be turned into an Event.
// Channel loops log it and move on to the next message.
type DecodeError struct {
	Kind  Kind
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("decode event: %v", e.Cause)
	}
	return fmt.Sprintf("decode %q event: %v", e.Kind, e.Cause)
}

func (e *DecodeError) Unwrap() []error {
	return []error{errors.ErrDecode, e.Cause}
}

// payload returns the struct carrying the fields of the event's kind.
// A nil result with a nil error means the kind has no fields.
func (e Event) payload() (any, error) {
	switch e.Kind {
	case KindHelloDatagram:
		return nil, nil
	case KindHello:
		return nonNil(e.Hello)
	case KindChat:
		return nonNil(e.Chat)
	case KindSystem:
		return nonNil(e.System)
	case KindControl:
		return nonNil(e.Control)
	case KindDraw:
		return nonNil(e.Draw)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownKind, e.Kind)
	}
}

func nonNil[T any](p *T) (any, error) {
	if p == nil {
		return nil, fmt.Errorf("missing payload")
	}
	return p, nil
}

// Encode renders the event as a JSON object whose first member is "kind".
func Encode(e Event) ([]byte, error) {
	p, err := e.payload()
	if err != nil {
		return nil, fmt.Errorf("encode %q event: %w", e.Kind, err)
	}
	kind, err := json.Marshal(e.Kind)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	buf.Write(kind)
	if p == nil {
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}

	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("encode %q event: %w", e.Kind, err)
	}
	fields, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %q event: %w", e.Kind, err)
	}
	// fields is a JSON object: splice its members after "kind".
	if len(fields) > 2 {
		buf.WriteByte(',')
		buf.Write(fields[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// Decode parses one envelope. Malformed input, a missing or unknown kind, and
// payloads failing validation all yield a *DecodeError.
func Decode(data []byte) (Event, error) {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Event{}, &DecodeError{Cause: err}
	}

	evt := Event{Kind: head.Kind}
	var target any
	switch head.Kind {
	case "":
		return Event{}, &DecodeError{Cause: fmt.Errorf("missing kind")}
	case KindHelloDatagram:
		return evt, nil
	case KindHello:
		evt.Hello = &Hello{}
		target = evt.Hello
	case KindChat:
		evt.Chat = &Chat{}
		target = evt.Chat
	case KindSystem:
		evt.System = &System{}
		target = evt.System
	case KindControl:
		evt.Control = &Control{}
		target = evt.Control
	case KindDraw:
		evt.Draw = &Draw{}
		target = evt.Draw
	default:
		return Event{}, &DecodeError{Kind: head.Kind, Cause: errors.ErrUnknownKind}
	}

	if err := json.Unmarshal(data, target); err != nil {
		return Event{}, &DecodeError{Kind: head.Kind, Cause: err}
	}
	if err := validate.Struct(target); err != nil {
		return Event{}, &DecodeError{Kind: head.Kind, Cause: err}
	}
	return evt, nil
}
