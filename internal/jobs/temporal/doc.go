// Package temporal implements jobs.Engine over the Temporal Go SDK. The SDK
// client is dialled on first use, reused by every handle and closed once.
package temporal
