package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/opsboard/livehub-go/pkg/wire"
)

func newJSONAdapter(buf *bytes.Buffer, level slog.Level) *SlogAdapter {
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})
	return NewSlogAdapter(slog.New(handler))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestSlogAdapterLogsFrameEvent(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf, slog.LevelDebug)

	adapter.Log(Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-123",
		Direction:    DirectionIn,
		Layer:        LayerTransport,
		Category:     CategoryMessage,
		Frame:        &FrameEvent{Size: 256, Data: []byte{0x01, 0x02}},
	})

	entry := decodeEntry(t, &buf)
	if entry["conn_id"] != "conn-123" {
		t.Errorf("conn_id: got %v, want %q", entry["conn_id"], "conn-123")
	}
	if entry["direction"] != "IN" {
		t.Errorf("direction: got %v, want %q", entry["direction"], "IN")
	}
	if entry["layer"] != "TRANSPORT" {
		t.Errorf("layer: got %v, want %q", entry["layer"], "TRANSPORT")
	}
	if entry["frame_size"] != float64(256) {
		t.Errorf("frame_size: got %v, want %v", entry["frame_size"], 256)
	}
}

func TestSlogAdapterLogsMessageEvent(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf, slog.LevelDebug)

	status := wire.StatusRejected
	rtt := 12 * time.Millisecond
	adapter.Log(Event{
		ConnectionID: "conn-1",
		Direction:    DirectionIn,
		Layer:        LayerWire,
		EntityID:     "machine-42",
		Message: &MessageEvent{
			Type:         wire.MessageTypeCompletion,
			InvocationID: "inv-7",
			Status:       &status,
			RoundTrip:    &rtt,
		},
	})

	entry := decodeEntry(t, &buf)
	if entry["msg_type"] != "COMPLETION" {
		t.Errorf("msg_type: got %v", entry["msg_type"])
	}
	if entry["invocation_id"] != "inv-7" {
		t.Errorf("invocation_id: got %v", entry["invocation_id"])
	}
	if entry["status"] != "REJECTED" {
		t.Errorf("status: got %v", entry["status"])
	}
	if entry["entity_id"] != "machine-42" {
		t.Errorf("entity_id: got %v", entry["entity_id"])
	}
}

func TestSlogAdapterLogsStateChange(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf, slog.LevelDebug)

	adapter.Log(Event{
		Layer:    LayerClient,
		Category: CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   StateEntityConnection,
			OldState: "CONNECTED",
			NewState: "RECONNECTING",
			Attempt:  3,
		},
	})

	entry := decodeEntry(t, &buf)
	if entry["new_state"] != "RECONNECTING" {
		t.Errorf("new_state: got %v", entry["new_state"])
	}
	if entry["attempt"] != float64(3) {
		t.Errorf("attempt: got %v", entry["attempt"])
	}
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf, slog.LevelInfo)

	adapter.Log(Event{ConnectionID: "quiet"})

	if buf.Len() != 0 {
		t.Errorf("debug event written at info level: %s", buf.String())
	}
}

func TestSlogAdapterRaisesErrorsToWarn(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf, slog.LevelInfo)

	adapter.Log(Event{
		ConnectionID: "conn-1",
		Layer:        LayerClient,
		Category:     CategoryError,
		Error:        &ErrorEventData{Layer: LayerTransport, Message: "connection reset"},
	})

	entry := decodeEntry(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("level: got %v, want WARN", entry["level"])
	}
	if entry["error_msg"] != "connection reset" {
		t.Errorf("error_msg: got %v", entry["error_msg"])
	}
	if _, ok := entry["error_context"]; ok {
		t.Error("empty error_context should be omitted")
	}
}

func TestSlogAdapterWithLevel(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf, slog.LevelInfo).WithLevel(slog.LevelInfo)

	adapter.Log(Event{ConnectionID: "loud"})

	if entry := decodeEntry(t, &buf); entry["conn_id"] != "loud" {
		t.Errorf("conn_id: got %v", entry["conn_id"])
	}
}
