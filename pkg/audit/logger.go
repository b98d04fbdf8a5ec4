package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Logger is the interface for recording audit events. Implementations must
// never block the calling operation beyond their own write; the engine
// ignores returned errors by design, so sinks are responsible for reporting
// their own failures.
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// NopLogger discards all events
type NopLogger struct{}

// NewNopLogger creates a logger that discards all events
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// Log discards the event
func (l *NopLogger) Log(_ context.Context, _ *Event) error { return nil }

// Close is a no-op
func (l *NopLogger) Close() error { return nil }

// LogSink emits audit events as structured log lines
type LogSink struct {
	logger *observability.Logger

	// RedactEmails masks the local part of email addresses per the host's
	// logging policy.
	RedactEmails bool
}

// NewLogSink creates an audit sink that writes structured log lines
func NewLogSink(logger *observability.Logger) *LogSink {
	return &LogSink{logger: logger, RedactEmails: true}
}

// Log emits the event as a structured log line
func (l *LogSink) Log(_ context.Context, event *Event) error {
	stamp(event)

	entry := l.logger.
		WithField("audit_event", string(event.Type)).
		WithField("event_id", event.ID)
	if event.OrganizationID != "" {
		entry = entry.WithField("organization_id", event.OrganizationID)
	}
	if event.ActorID != nil {
		entry = entry.WithField("actor_id", *event.ActorID)
	}
	if event.Email != "" {
		email := event.Email
		if l.RedactEmails {
			email = RedactEmail(email)
		}
		entry = entry.WithField("email", email)
	}
	if event.Code != "" {
		entry = entry.WithField("code", event.Code)
	}
	for k, v := range event.Detail {
		entry = entry.WithField(k, v)
	}

	entry.Info("audit")
	return nil
}

// Close is a no-op for the log sink
func (l *LogSink) Close() error { return nil }

// MultiLogger fans events out to several sinks. Log returns the first error
// encountered but always attempts every sink.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger creates a logger that fans out to all given sinks
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// Log records the event on every sink
func (l *MultiLogger) Log(ctx context.Context, event *Event) error {
	var firstErr error
	for _, sink := range l.sinks {
		if err := sink.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes every sink
func (l *MultiLogger) Close() error {
	var firstErr error
	for _, sink := range l.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RedactEmail masks the local part of an email address, keeping the first
// character and the domain.
func RedactEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func stamp(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}
