// Package grpcserver serves the standard gRPC health service
// (grpc.health.v1) so orchestrators can gate traffic on storage health and
// the event-source liveness alarm. The data plane is HTTP only.
package grpcserver
