package log

import (
	"fmt"
	"strings"
	"time"

	"github.com/opsboard/livehub-go/pkg/wire"
)

// Event represents a protocol event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies one physical connection attempt (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// Endpoint is the hub URL.
	Endpoint string `cbor:"6,keyasint,omitempty"`

	// EntityID is set when the event concerns one entity.
	EntityID string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction is the flow of a message relative to this client.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

// Layer names the part of the stack that recorded an event: the websocket
// (raw bytes), the frame codec, or the connection and subscription logic.
type Layer uint8

const (
	LayerTransport Layer = iota
	LayerWire
	LayerClient
)

// Category classifies what an event carries.
type Category uint8

const (
	CategoryMessage Category = iota // hub frame
	CategoryControl                 // ping, pong, close
	CategoryState
	CategoryError
)

var (
	directionNames = []string{"IN", "OUT"}
	layerNames     = []string{"TRANSPORT", "WIRE", "CLIENT"}
	categoryNames  = []string{"MESSAGE", "CONTROL", "STATE", "ERROR"}
	stateEntNames  = []string{"CONNECTION", "SUBSCRIPTION"}
	controlNames   = []string{"PING", "PONG", "CLOSE"}
)

func enumName[T ~uint8](v T, names []string) string {
	if int(v) < len(names) {
		return names[v]
	}
	return "UNKNOWN"
}

func parseEnum[T ~uint8](kind, s string, names []string) (T, error) {
	for i, n := range names {
		if strings.EqualFold(s, n) {
			return T(i), nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q (want one of %s)", kind, s, strings.ToLower(strings.Join(names, ", ")))
}

func (d Direction) String() string { return enumName(d, directionNames) }
func (l Layer) String() string     { return enumName(l, layerNames) }
func (c Category) String() string  { return enumName(c, categoryNames) }

// ParseDirection accepts a direction name in any case.
func ParseDirection(s string) (Direction, error) {
	return parseEnum[Direction]("direction", s, directionNames)
}

// ParseLayer accepts a layer name in any case.
func ParseLayer(s string) (Layer, error) { return parseEnum[Layer]("layer", s, layerNames) }

// ParseCategory accepts a category name in any case.
func ParseCategory(s string) (Category, error) {
	return parseEnum[Category]("category", s, categoryNames)
}

// FrameEvent captures a raw websocket message.
type FrameEvent struct {
	// Size is the message size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw message (may be truncated for large messages).
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded hub frame.
type MessageEvent struct {
	Type wire.MessageType `cbor:"1,keyasint"`

	// InvocationID correlates invocations and completions (empty for pushes).
	InvocationID string `cbor:"2,keyasint,omitempty"`

	Target string `cbor:"3,keyasint,omitempty"`

	// For completions: the status code.
	Status *wire.Status `cbor:"4,keyasint,omitempty"`

	// Error text carried by a failed completion or close frame.
	Error string `cbor:"5,keyasint,omitempty"`

	// ArgumentCount is the number of arguments carried by an invocation.
	ArgumentCount int `cbor:"6,keyasint,omitempty"`

	// RoundTrip is the time between invocation and completion (completions only).
	RoundTrip *time.Duration `cbor:"7,keyasint,omitempty"`
}

// StateChangeEvent captures connection and subscription lifecycle events.
type StateChangeEvent struct {
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`

	// Attempt is the reconnect attempt number, when relevant.
	Attempt int `cbor:"5,keyasint,omitempty"`
}

// StateEntity says whose state changed: the hub connection or the
// server-side subscription of one entity.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = iota
	StateEntitySubscription
)

func (s StateEntity) String() string { return enumName(s, stateEntNames) }

// ControlMsgEvent captures transport-level control messages.
type ControlMsgEvent struct {
	Type ControlMsgType `cbor:"1,keyasint"`

	// CloseCode is the websocket close code for close messages.
	CloseCode *int `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType is a websocket control frame kind.
type ControlMsgType uint8

const (
	ControlMsgPing ControlMsgType = iota
	ControlMsgPong
	ControlMsgClose
)

func (c ControlMsgType) String() string { return enumName(c, controlNames) }

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer Layer `cbor:"1,keyasint"`

	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
