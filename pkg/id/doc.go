// Package id mints relay session identifiers.
//
// An ID is 16 bytes: an 8 byte millisecond timestamp followed by an 8 byte
// per-millisecond sequence, both big-endian, rendered as 32 hex digits. IDs
// from one Generator sort in creation order both as bytes and as strings,
// so the sessions listing can order by id alone and recover the start time
// with Time.
//
//	g := id.NewGenerator(nil)
//	sid := g.Next().String()
//	parsed, err := id.Parse(sid)
package id
