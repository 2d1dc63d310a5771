// Package eventlog defines the append-only, per-subject event log the relay
// reads from and publishers write to.
//
// A subject key names one logical subject (a workflow, a file, a fan-in
// topic). Within a subject, events are totally ordered by a log-assigned
// Cursor; a reader resumes by passing the last cursor it saw to ReadAfter.
// Cursors are opaque: backends may use sequence numbers or stream ids.
//
// Backends live in subpackages: pebblelog (embedded, durable) and redislog
// (Redis Streams). The eventlogtest package holds a behavioural suite both
// backends run.
package eventlog
