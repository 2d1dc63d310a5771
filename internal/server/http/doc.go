// Package httpserver is the REST, SSE and websocket gateway of the relay.
//
// Example:
//
//	rt, _ := runtime.Open(ctx, runtime.Options{Config: config.Default()})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
//
// Stream endpoints:
//
//	GET /v1/stream/workflow/{id}   SSE, one session per workflow
//	GET /v1/stream/file/{id}       SSE, one session per file
//	GET /v1/stream/user/{id}       SSE, fan-in of every topic, many viewers
//	GET /v1/ws/{kind}/{id}         the same sessions over a websocket
package httpserver
