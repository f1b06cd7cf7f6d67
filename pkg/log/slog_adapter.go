package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors protocol events into an operational slog.Logger, one
// flat record per event. Events go out at the adapter's level (Debug unless
// changed with WithLevel); error events are raised to at least Warn.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter returns an adapter that writes to logger at Debug level.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns a copy of the adapter that logs at level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	return &SlogAdapter{logger: a.logger, level: level}
}

// Log implements Logger.
func (a *SlogAdapter) Log(event Event) {
	level := a.level
	if event.Error != nil {
		level = max(level, slog.LevelWarn)
	}
	ctx := context.Background()
	if !a.logger.Enabled(ctx, level) {
		return
	}
	a.logger.LogAttrs(ctx, level, "protocol", eventAttrs(event)...)
}

// attrs accumulates record attributes, dropping empty optional values.
type attrs []slog.Attr

func (as *attrs) str(key, v string) {
	if v != "" {
		*as = append(*as, slog.String(key, v))
	}
}

func (as *attrs) add(a ...slog.Attr) { *as = append(*as, a...) }

func eventAttrs(e Event) []slog.Attr {
	as := attrs{
		slog.String("conn_id", e.ConnectionID),
		slog.String("direction", e.Direction.String()),
		slog.String("layer", e.Layer.String()),
		slog.String("category", e.Category.String()),
	}
	as.str("endpoint", e.Endpoint)
	as.str("entity_id", e.EntityID)

	switch {
	case e.Frame != nil:
		as.add(slog.Int("frame_size", e.Frame.Size), slog.Bool("truncated", e.Frame.Truncated))

	case e.Message != nil:
		m := e.Message
		as.add(slog.String("msg_type", m.Type.String()))
		as.str("invocation_id", m.InvocationID)
		as.str("target", m.Target)
		if m.Status != nil {
			as.add(slog.String("status", m.Status.String()))
		}
		as.str("error", m.Error)
		if m.RoundTrip != nil {
			as.add(slog.Duration("round_trip", *m.RoundTrip))
		}

	case e.StateChange != nil:
		sc := e.StateChange
		as.add(
			slog.String("entity", sc.Entity.String()),
			slog.String("old_state", sc.OldState),
			slog.String("new_state", sc.NewState),
		)
		as.str("reason", sc.Reason)
		if sc.Attempt > 0 {
			as.add(slog.Int("attempt", sc.Attempt))
		}

	case e.ControlMsg != nil:
		as.add(slog.String("ctrl_type", e.ControlMsg.Type.String()))
		if e.ControlMsg.CloseCode != nil {
			as.add(slog.Int("close_code", *e.ControlMsg.CloseCode))
		}

	case e.Error != nil:
		as.add(
			slog.String("error_layer", e.Error.Layer.String()),
			slog.String("error_msg", e.Error.Message),
		)
		as.str("error_context", e.Error.Context)
	}
	return as
}

var _ Logger = (*SlogAdapter)(nil)
