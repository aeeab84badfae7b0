// Package probe builds the liveness and readiness endpoints as mountable
// router fragments.
//
// Each API owns one GET route. RegisterHandlers constructs a fresh fragment
// from the injected RouterFactory on every call; the caller mounts it and
// owns it from then on.
//
//	live, _ := probe.NewLiveness(logger, probe.Options{})
//	ready, _ := probe.NewReadiness(logger, checks, probe.Options{Timeout: time.Second})
//	r.Mount("/-", live.RegisterHandlers())
//
// Every invocation logs exactly once at info severity through the injected
// Logger and writes exactly one status code with no body:
//
//   - liveness: 200, synchronously
//   - readiness: 200 when the check passes, 503 when it fails, panics or
//     exceeds the timeout
//   - either: 500 when the Logger itself fails to write
package probe
