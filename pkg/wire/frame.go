package wire

import (
	"errors"
	"fmt"
)

// MessageType identifies the kind of frame.
type MessageType uint8

const (
	// MessageTypeInvocation is a method call. Server pushes are invocations
	// without an InvocationID.
	MessageTypeInvocation MessageType = 1

	// MessageTypeCompletion is the result of a client invocation.
	MessageTypeCompletion MessageType = 3

	// MessageTypePing is a keepalive frame.
	MessageTypePing MessageType = 6

	// MessageTypeClose announces that the peer is closing the connection.
	MessageTypeClose MessageType = 7
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MessageTypeInvocation:
		return "INVOCATION"
	case MessageTypeCompletion:
		return "COMPLETION"
	case MessageTypePing:
		return "PING"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// IsValid returns true if the type is a known message type.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeInvocation, MessageTypeCompletion, MessageTypePing, MessageTypeClose:
		return true
	}
	return false
}

// Hub method names.
const (
	TargetSubscribe          = "Subscribe"
	TargetUnsubscribe        = "Unsubscribe"
	TargetGetState           = "GetState"
	TargetGetSubscriberCount = "GetSubscriberCount"

	// TargetStateUpdate is the server push carrying an entity snapshot.
	TargetStateUpdate = "StateUpdate"
)

// Frame validation errors.
var (
	ErrMissingTarget       = errors.New("invocation without target")
	ErrMissingInvocationID = errors.New("completion without invocation id")
)

// Frame is a single hub message.
//
// Encoding:
//
//	{
//	  1: type,          // uint8
//	  2: invocationId,  // string, empty on pushes
//	  3: target,        // string, invocations only
//	  4: arguments,     // array of raw values
//	  5: status,        // uint8, completions only
//	  6: result,        // raw value
//	  7: error          // string
//	}
//
// JSON uses the field names below instead of integer keys.
type Frame struct {
	Type         MessageType `json:"type" cbor:"1,keyasint"`
	InvocationID string      `json:"invocationId,omitempty" cbor:"2,keyasint,omitempty"`
	Target       string      `json:"target,omitempty" cbor:"3,keyasint,omitempty"`
	Arguments    []Raw       `json:"arguments,omitempty" cbor:"4,keyasint,omitempty"`
	Status       Status      `json:"status,omitempty" cbor:"5,keyasint,omitempty"`
	Result       Raw         `json:"result,omitempty" cbor:"6,keyasint,omitempty"`
	Error        string      `json:"error,omitempty" cbor:"7,keyasint,omitempty"`
}

// Validate checks the fields required by the frame type.
func (f *Frame) Validate() error {
	switch f.Type {
	case MessageTypeInvocation:
		if f.Target == "" {
			return ErrMissingTarget
		}
	case MessageTypeCompletion:
		if f.InvocationID == "" {
			return ErrMissingInvocationID
		}
	case MessageTypePing, MessageTypeClose:
	default:
		return fmt.Errorf("invalid message type: %d", f.Type)
	}
	return nil
}

// IsPush returns true for server-initiated invocations.
func (f *Frame) IsPush() bool {
	return f.Type == MessageTypeInvocation && f.InvocationID == ""
}

// NewInvocation builds a client invocation, encoding each argument with c.
func NewInvocation(c Codec, invocationID, target string, args ...any) (*Frame, error) {
	raw, err := encodeArgs(c, args)
	if err != nil {
		return nil, fmt.Errorf("encode %s arguments: %w", target, err)
	}
	return &Frame{
		Type:         MessageTypeInvocation,
		InvocationID: invocationID,
		Target:       target,
		Arguments:    raw,
	}, nil
}

// NewPush builds a server push.
func NewPush(c Codec, target string, args ...any) (*Frame, error) {
	return NewInvocation(c, "", target, args...)
}

// NewCompletion builds a successful completion. A nil result encodes as null.
func NewCompletion(c Codec, invocationID string, result any) (*Frame, error) {
	f := &Frame{
		Type:         MessageTypeCompletion,
		InvocationID: invocationID,
		Status:       StatusSuccess,
	}
	if result != nil {
		raw, err := EncodeValue(c, result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		f.Result = raw
	}
	return f, nil
}

// NewErrorCompletion builds a failed completion.
func NewErrorCompletion(invocationID string, status Status, message string) *Frame {
	return &Frame{
		Type:         MessageTypeCompletion,
		InvocationID: invocationID,
		Status:       status,
		Error:        message,
	}
}

func encodeArgs(c Codec, args []any) ([]Raw, error) {
	if len(args) == 0 {
		return nil, nil
	}
	raw := make([]Raw, len(args))
	for i, a := range args {
		r, err := EncodeValue(c, a)
		if err != nil {
			return nil, err
		}
		raw[i] = r
	}
	return raw, nil
}
