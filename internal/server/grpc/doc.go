// Package grpcserver hosts the gRPC server of the relay. It carries the
// standard grpc.health.v1 service whose status follows the runtime's
// dependency probes, so orchestrators can health check the process without
// speaking HTTP.
//
// Example:
//
//	s := grpcserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":50051")
package grpcserver
