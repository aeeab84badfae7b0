// Package grpchealth serves grpc.health.v1.Health from the same check that
// backs the HTTP readiness probe, so orchestrators with native gRPC probes
// see the same answer as /-/ready.
package grpchealth
