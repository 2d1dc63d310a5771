// Package pebblelog is the embedded event log backend. Each subject key owns a
// contiguous key range in Pebble; appends are single batches that write the
// entry, bump the subject's sequence and apply length retention. Blocked
// readers wait on a per-subject channel that every append closes.
package pebblelog
