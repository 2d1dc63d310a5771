// Package publisher is the write side of the relay. Upload and analysis code
// appends progress, terminal and notification events through it; every event
// is mirrored to the fan-in topic user sessions follow.
package publisher
