// Package redislog is the Redis Streams event log backend. Each subject key
// maps to one stream; entries carry event_type, timestamp, subject_key and a
// JSON data field. Stream ids are the cursors.
package redislog
