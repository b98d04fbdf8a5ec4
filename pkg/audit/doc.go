// Package audit records structured audit events for invitation and
// membership outcomes.
//
// The invitations store deletes rows on both acceptance and revocation, so
// the audit trail is the only place that records which terminal state an
// invitation reached. Engine operations emit events best-effort: a failing
// sink is the sink's problem to report and never blocks the operation.
//
// Sinks: LogSink (structured log lines, email redaction on by default),
// DBLogger (audit_events table), MultiLogger (fan-out), NopLogger.
package audit
