package log

// Logger receives protocol log events. Pass nil or NoopLogger to disable
// logging.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe
	// and must not block for long.
	Log(event Event)
}

// NoopLogger discards all events. It is usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// MultiLogger fans events out to several loggers, e.g. console output
// through SlogAdapter and a capture file through FileLogger.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger. Nil loggers are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log sends the event to all configured loggers.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}

// Len returns the number of wrapped loggers.
func (m *MultiLogger) Len() int { return len(m.loggers) }

var (
	_ Logger = NoopLogger{}
	_ Logger = (*MultiLogger)(nil)
)
