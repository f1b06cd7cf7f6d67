package log

import (
	"strings"
	"testing"
	"time"

	"github.com/opsboard/livehub-go/pkg/wire"
)

func TestNoopLoggerDoesNotPanic(t *testing.T) {
	logger := NoopLogger{}

	event := Event{
		Timestamp:    time.Now(),
		ConnectionID: "test-conn",
		Direction:    DirectionIn,
		Layer:        LayerTransport,
		Category:     CategoryMessage,
	}
	logger.Log(event)

	event.Frame = &FrameEvent{Size: 100, Data: []byte{1, 2, 3}}
	logger.Log(event)

	event.Frame = nil
	event.Message = &MessageEvent{Type: wire.MessageTypeInvocation, Target: wire.TargetSubscribe}
	logger.Log(event)

	event.Message = nil
	event.StateChange = &StateChangeEvent{Entity: StateEntityConnection, NewState: "CONNECTED"}
	logger.Log(event)
}

func TestNoopLoggerIsZeroValue(t *testing.T) {
	var logger NoopLogger
	logger.Log(Event{})
}

func TestMultiLoggerFansOut(t *testing.T) {
	var a, b recordingLogger
	m := NewMultiLogger(&a, &b)

	m.Log(Event{ConnectionID: "c1"})
	m.Log(Event{ConnectionID: "c2"})

	if len(a.events) != 2 || len(b.events) != 2 {
		t.Fatalf("got %d and %d events, want 2 each", len(a.events), len(b.events))
	}
	if a.events[1].ConnectionID != "c2" {
		t.Errorf("second event = %q, want c2", a.events[1].ConnectionID)
	}
}

func TestNewFrameEvent(t *testing.T) {
	data := []byte("0123456789")

	fe := NewFrameEvent(data, 4)
	if fe.Size != 10 || string(fe.Data) != "0123" || !fe.Truncated {
		t.Errorf("truncated frame = %+v", fe)
	}

	fe = NewFrameEvent(data, 64)
	if string(fe.Data) != "0123456789" || fe.Truncated {
		t.Errorf("full frame = %+v", fe)
	}

	data[0] = 'x'
	if fe.Data[0] != '0' {
		t.Error("frame event shares memory with the input")
	}

	fe = NewFrameEvent(data, 0)
	if fe.Data != nil || fe.Size != 10 {
		t.Errorf("size-only frame = %+v", fe)
	}
}

func TestFormat(t *testing.T) {
	status := wire.StatusUnknownEntity
	line := Format(Event{
		Timestamp:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ConnectionID: "0f8fad5b-d9cb-469f-a165-70867728950e",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		Category:     CategoryMessage,
		EntityID:     "device-9",
		Message: &MessageEvent{
			Type:         wire.MessageTypeCompletion,
			InvocationID: "abc",
			Status:       &status,
			Error:        "no such device",
		},
	})

	for _, want := range []string{"IN", "WIRE", "[0f8fad5b]", "COMPLETION", "id=abc", "status=UNKNOWN_ENTITY", `error="no such device"`, "entity=device-9"} {
		if !strings.Contains(line, want) {
			t.Errorf("Format() = %q, missing %q", line, want)
		}
	}
}

type recordingLogger struct {
	events []Event
}

func (r *recordingLogger) Log(e Event) { r.events = append(r.events, e) }

func TestNewMultiLoggerCollapses(t *testing.T) {
	if _, ok := NewMultiLogger().(NoopLogger); !ok {
		t.Error("no loggers: want NoopLogger")
	}
	if _, ok := NewMultiLogger(nil, NoopLogger{}).(NoopLogger); !ok {
		t.Error("nil and noop loggers: want NoopLogger")
	}

	var a recordingLogger
	if got := NewMultiLogger(nil, &a); got != Logger(&a) {
		t.Errorf("single logger: got %T, want the logger itself", got)
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) is not a NoopLogger")
	}
	var a recordingLogger
	OrNoop(&a).Log(Event{ConnectionID: "c1"})
	if len(a.events) != 1 {
		t.Errorf("got %d events, want 1", len(a.events))
	}
}

func TestLoggerFunc(t *testing.T) {
	var ids []string
	var l Logger = LoggerFunc(func(e Event) { ids = append(ids, e.ConnectionID) })

	l.Log(Event{ConnectionID: "a"})
	l.Log(Event{ConnectionID: "b"})

	if strings.Join(ids, ",") != "a,b" {
		t.Errorf("ids = %v", ids)
	}
}

func TestParseEnums(t *testing.T) {
	if l, err := ParseLayer("wire"); err != nil || l != LayerWire {
		t.Errorf("ParseLayer(wire) = %v, %v", l, err)
	}
	if d, err := ParseDirection("OUT"); err != nil || d != DirectionOut {
		t.Errorf("ParseDirection(OUT) = %v, %v", d, err)
	}
	if c, err := ParseCategory("State"); err != nil || c != CategoryState {
		t.Errorf("ParseCategory(State) = %v, %v", c, err)
	}
	if _, err := ParseLayer("service"); err == nil || !strings.Contains(err.Error(), "transport, wire, client") {
		t.Errorf("ParseLayer(service) error = %v", err)
	}
	if got := Layer(9).String(); got != "UNKNOWN" {
		t.Errorf("Layer(9) = %q", got)
	}
	if got := ControlMsgClose.String(); got != "CLOSE" {
		t.Errorf("ControlMsgClose = %q", got)
	}
}
