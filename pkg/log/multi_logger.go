package log

// MultiLogger sends each event to several loggers in order, typically the
// slog adapter for the console and a FileLogger for the capture file.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger combines loggers, skipping nil ones. It returns the single
// remaining logger as is and a NoopLogger when none remain.
func NewMultiLogger(loggers ...Logger) Logger {
	kept := make([]Logger, 0, len(loggers))
	for _, l := range loggers {
		if l == nil {
			continue
		}
		if _, noop := l.(NoopLogger); noop {
			continue
		}
		kept = append(kept, l)
	}
	switch len(kept) {
	case 0:
		return NoopLogger{}
	case 1:
		return kept[0]
	}
	return &MultiLogger{loggers: kept}
}

// Log forwards event to every logger.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}
