// Package client contains Cobra CLI commands for the relay.
//
// Commands talk to the HTTP API at RELAY_HTTP (default
// http://127.0.0.1:8080) and, for health, to the gRPC endpoint at
// RELAY_GRPC (default 127.0.0.1:50051).
//
// Follow a workflow until it finishes:
//
//	relay stream tail workflow analyze-6f1c
//
// Resume a file stream over a websocket:
//
//	relay stream tail file f-42 --transport ws --last-event-id 7
//
// Publish from a worker:
//
//	relay publish progress --workflow-id analyze-6f1c --step extract --progress 40
//	relay publish terminal --workflow-id analyze-6f1c --result '{"pages":3}'
//
// Operate live sessions:
//
//	relay sessions list
//	relay sessions cancel --key workflow:analyze-6f1c
package client
