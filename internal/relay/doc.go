// Package relay turns event log subjects and polled job status into live,
// resumable frame streams.
//
// A Session follows one or more subjects plus an optional job handle. Each
// cycle it reads every subject after its cursor, polls the job, emits a
// heartbeat when nothing else was sent, enforces a cycle ceiling and sleeps.
// Sessions move Connecting -> Streaming -> Draining -> Closed; every exit
// path (terminal job state, timeout, explicit cancel, failed write) ends in
// the same idempotent close.
//
// Frames carry a resume token: the raw cursor for single-subject sessions and
// subject=cursor pairs otherwise. A consumer reconnecting with the last token
// it saw continues without gaps.
//
// The Registry keeps at most one session per singleton key (workflow and
// file streams) and any number of fan-in viewers per user.
package relay
