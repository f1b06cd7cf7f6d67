package log

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMaxFrameData bounds how many bytes of a frame are kept in a FrameEvent.
const DefaultMaxFrameData = 4096

// NewFrameEvent captures data, truncating it to maxData bytes.
// A maxData of zero or less keeps only the size.
func NewFrameEvent(data []byte, maxData int) *FrameEvent {
	fe := &FrameEvent{Size: len(data)}
	if maxData <= 0 {
		fe.Truncated = len(data) > 0
		return fe
	}
	n := len(data)
	if n > maxData {
		n = maxData
		fe.Truncated = true
	}
	fe.Data = append([]byte(nil), data[:n]...)
	return fe
}

// Format renders an event as a single human-readable line.
func Format(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-3s %-9s", event.Timestamp.Format(time.RFC3339Nano), event.Direction, event.Layer)
	if event.ConnectionID != "" {
		id := event.ConnectionID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(&b, " [%s]", id)
	}

	switch {
	case event.Frame != nil:
		fmt.Fprintf(&b, " frame %dB", event.Frame.Size)
		if event.Frame.Truncated {
			b.WriteString(" (truncated)")
		}
	case event.Message != nil:
		m := event.Message
		fmt.Fprintf(&b, " %s", m.Type)
		if m.Target != "" {
			fmt.Fprintf(&b, " %s", m.Target)
		}
		if m.InvocationID != "" {
			fmt.Fprintf(&b, " id=%s", m.InvocationID)
		}
		if m.Status != nil {
			fmt.Fprintf(&b, " status=%s", m.Status)
		}
		if m.RoundTrip != nil {
			fmt.Fprintf(&b, " rtt=%s", *m.RoundTrip)
		}
		if m.Error != "" {
			fmt.Fprintf(&b, " error=%q", m.Error)
		}
	case event.StateChange != nil:
		s := event.StateChange
		fmt.Fprintf(&b, " %s %s -> %s", s.Entity, s.OldState, s.NewState)
		if s.Attempt > 0 {
			fmt.Fprintf(&b, " attempt=%d", s.Attempt)
		}
		if s.Reason != "" {
			fmt.Fprintf(&b, " (%s)", s.Reason)
		}
	case event.ControlMsg != nil:
		fmt.Fprintf(&b, " %s", event.ControlMsg.Type)
		if event.ControlMsg.CloseCode != nil {
			fmt.Fprintf(&b, " code=%d", *event.ControlMsg.CloseCode)
		}
	case event.Error != nil:
		fmt.Fprintf(&b, " error %s", event.Error.Message)
		if event.Error.Context != "" {
			fmt.Fprintf(&b, " during %s", event.Error.Context)
		}
	}

	if event.EntityID != "" {
		fmt.Fprintf(&b, " entity=%s", event.EntityID)
	}
	return b.String()
}
